package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jeodc/droidlink/internal/ble"
	"github.com/jeodc/droidlink/internal/catalog"
	"github.com/jeodc/droidlink/internal/config"
	"github.com/jeodc/droidlink/internal/droid"
	"github.com/jeodc/droidlink/internal/droid/wire"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/droidlink/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	cat, err := loadCatalog(cfg)
	if err != nil {
		fatalf("catalog: %v", err)
	}

	radio := ble.NewBlueZAdapter()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "scan":
		err = runScan(ctx, cfg, cat, radio)
	case "beacon":
		err = runBeacon(ctx, cfg, cat, radio, args[1:])
	case "connect":
		err = runConnect(ctx, cfg, cat, radio, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatalf("%s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: droidlink [flags] <command>

Commands:
  scan                        discover droids and print sightings
  beacon -location <id>       advertise a location beacon
  beacon -faction <f> -personality <p> -affiliation <a>
                              impersonate a droid
  connect <address>           pair with a droid and drive it interactively

Flags:
`)
	flag.PrintDefaults()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Info("no config file found, using defaults")
	return config.Default(), nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.CatalogPath)
}

func runScan(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, radio ble.Adapter) error {
	opts := droid.ScannerOptions{
		NameFilter: cfg.Scan.NameFilter,
		Buffer:     cfg.Scan.Buffer,
	}
	if cfg.Scan.Enrich {
		opts.Enrich = ble.BluetoothCtl{}
	}

	scanner := droid.NewScanner(radio, opts)
	if err := scanner.Start(ctx); err != nil {
		return err
	}
	defer scanner.Stop()

	fmt.Println("Scanning for droids. Ctrl+C to stop.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case adv, ok := <-scanner.Events():
			if !ok {
				return nil
			}
			printSighting(cat, adv)
		}
	}
}

func printSighting(cat *catalog.Catalog, adv wire.Advertisement) {
	paired := "unpaired"
	if adv.Paired {
		paired = "paired"
	}
	fmt.Printf("%s  %-16s  %s / %s / %s  (%s, %d dBm)\n",
		adv.Address,
		adv.Name,
		cat.NameOf(catalog.KindFaction, adv.Faction),
		cat.NameOf(catalog.KindPersonality, adv.Personality),
		cat.NameOf(catalog.KindAffiliation, adv.Affiliation),
		paired,
		adv.RSSI,
	)
}

func runBeacon(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, radio ble.Adapter, args []string) error {
	fs := flag.NewFlagSet("beacon", flag.ExitOnError)
	location := fs.Int("location", -1, "location ID to advertise (catalog presets)")
	faction := fs.Int("faction", -1, "faction code for droid impersonation")
	personality := fs.Int("personality", 1, "personality chip code")
	affiliation := fs.Int("affiliation", 1, "affiliation code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var spec wire.Spec
	var label string
	switch {
	case *location >= 0:
		id := byte(*location)
		spec = locationSpec(cat, id)
		label = cat.NameOf(catalog.KindLocation, id)
	case *faction >= 0:
		spec = wire.DroidBeacon{
			Faction:     byte(*faction),
			Personality: byte(*personality),
			Affiliation: byte(*affiliation),
		}
		label = cat.NameOf(catalog.KindFaction, byte(*faction))
	default:
		return fmt.Errorf("either -location or -faction is required")
	}

	b := droid.NewBeacon(radio, droid.BeaconOptions{})
	if err := b.Start(ctx, spec, cfg.Beacon.Interval()); err != nil {
		return err
	}
	defer b.Stop()

	fmt.Printf("Advertising %s beacon (%s) every %s. Ctrl+C to stop.\n",
		spec.Kind(), label, cfg.Beacon.Interval())
	<-ctx.Done()
	return nil
}

// locationSpec picks up the catalog's per-location reaction interval
// when the ID is a known preset.
func locationSpec(cat *catalog.Catalog, id byte) wire.LocationBeacon {
	spec := wire.LocationBeacon{LocationID: id, Interval: 2}
	if loc, ok := cat.LocationByID(id); ok {
		spec.Interval = loc.Interval
	}
	return spec
}

func runConnect(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, radio ble.Adapter, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: connect <address>")
	}

	dialer := droid.NewDialer(radio, droid.SessionOptions{
		WriteTimeout: cfg.Connect.WriteTimeout(),
		PacketDelay:  cfg.Connect.PacketDelay(),
		LogonRepeats: cfg.Connect.LogonRepeats,
	})

	fmt.Printf("Connecting to %s...\n", strings.ToUpper(args[0]))
	session, err := dialer.Connect(ctx, args[0])
	if err != nil {
		return err
	}
	defer session.Disconnect()

	fmt.Printf("Connected (handle %s).\n", session.Handle().ID)
	fmt.Println(`Commands:
  audio <group> <clip>      play a sound
  script <id>               run a stored motion script
  drive <motor> <speed>     drive a motor, speed in [-1, 1]
  head <speed>              turn the dome smoothly, speed in [-1, 1]
  roll <heading> <throttle> drive a BB unit by heading
  spin <heading> <throttle> turn a BB unit in place
  accessory                 trigger an attached accessory
  stop                      stop every motor
  quit`)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "quit" {
				return nil
			}
			frame, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := session.Send(frame); err != nil {
				fmt.Printf("send failed: %v\n", err)
				if session.State() == droid.StateDisconnected {
					return fmt.Errorf("link lost")
				}
			}
		}
	}
}

// parseCommand turns one console line into a command frame.
func parseCommand(line string) (wire.Frame, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return wire.Frame{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "audio":
		if len(fields) != 3 {
			return wire.Frame{}, fmt.Errorf("usage: audio <group> <clip>")
		}
		group, err := parseByte(fields[1])
		if err != nil {
			return wire.Frame{}, fmt.Errorf("group: %w", err)
		}
		clip, err := parseByte(fields[2])
		if err != nil {
			return wire.Frame{}, fmt.Errorf("clip: %w", err)
		}
		return wire.Frame{Op: wire.OpAudio, Group: group, Clip: clip}, nil
	case "script":
		if len(fields) != 2 {
			return wire.Frame{}, fmt.Errorf("usage: script <id>")
		}
		id, err := parseByte(fields[1])
		if err != nil {
			return wire.Frame{}, fmt.Errorf("script: %w", err)
		}
		return wire.Frame{Op: wire.OpScript, Script: id}, nil
	case "drive":
		if len(fields) != 3 {
			return wire.Frame{}, fmt.Errorf("usage: drive <motor> <speed>")
		}
		motor, err := parseByte(fields[1])
		if err != nil {
			return wire.Frame{}, fmt.Errorf("motor: %w", err)
		}
		speed, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return wire.Frame{}, fmt.Errorf("speed: %w", err)
		}
		return wire.Frame{Op: wire.OpDrive, Motor: motor, Speed: speed}, nil
	case "head":
		if len(fields) != 2 {
			return wire.Frame{}, fmt.Errorf("usage: head <speed>")
		}
		speed, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return wire.Frame{}, fmt.Errorf("speed: %w", err)
		}
		return wire.Frame{Op: wire.OpHead, Speed: speed}, nil
	case "roll", "spin":
		if len(fields) != 3 {
			return wire.Frame{}, fmt.Errorf("usage: %s <heading> <throttle>", fields[0])
		}
		heading, err := parseByte(fields[1])
		if err != nil {
			return wire.Frame{}, fmt.Errorf("heading: %w", err)
		}
		throttle, err := parseByte(fields[2])
		if err != nil {
			return wire.Frame{}, fmt.Errorf("throttle: %w", err)
		}
		op := wire.OpBallDrive
		if fields[0] == "spin" {
			op = wire.OpBallTurn
		}
		return wire.Frame{Op: op, Heading: heading, Throttle: throttle}, nil
	case "accessory":
		return wire.Frame{Op: wire.OpAccessory}, nil
	case "stop":
		return wire.Frame{Op: wire.OpStopAll}, nil
	default:
		return wire.Frame{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}
