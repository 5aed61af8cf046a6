package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// MainboardConfig is the subset of the bus-controller line's own
// options (ramsize=, cpus=) that must be known before anything else
// in the machine can be constructed: internal/memory.New and
// internal/bus.New both need these up front, before the slot-31
// device object that will eventually read them back even exists.
// ScanMainboard performs a throwaway first pass over the config file
// to recover them; the regular LoadConfigFile pass (run once the
// machine is built) attaches the real devices, mainboard included.
type MainboardConfig struct {
	Slot     int
	IsOld    bool
	RAMSize  uint64
	NumCPUs  int
}

// ScanMainboard finds the slot 31 "mainboard"/"oldmainboard" line and
// extracts its ramsize=/cpus= options (original_source/bus/lamebus.c
// lamebus_commonmainboard_init's own option loop), defaulting cpus to
// 1 when absent. It does not consult the model registry and never
// errors on lines naming devices nobody has registered yet.
func ScanMainboard(path string) (MainboardConfig, error) {
	cfg := MainboardConfig{NumCPUs: 1}

	file, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	found := false
	for {
		raw, err := reader.ReadString('\n')
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return cfg, err
		}

		line := optionLine{line: raw}
		model := line.parseModel()
		if model == nil {
			if err != nil {
				break
			}
			continue
		}

		name := strings.ToUpper(model.model)
		if name != "MAINBOARD" && name != "OLDMAINBOARD" {
			if err != nil {
				break
			}
			continue
		}
		if found {
			return cfg, fmt.Errorf("config: more than one mainboard/oldmainboard line")
		}
		found = true
		cfg.IsOld = name == "OLDMAINBOARD"

		first := model.first
		if first == nil || !first.isSlot {
			return cfg, fmt.Errorf("%s requires a slot number", name)
		}
		cfg.Slot = first.slot

		options, perr := line.parseOptions()
		if perr != nil {
			return cfg, perr
		}
		for _, opt := range options {
			switch strings.ToLower(opt.Name) {
			case "ramsize":
				size, serr := ParseSize(opt.EqualOpt)
				if serr != nil {
					return cfg, serr
				}
				cfg.RAMSize = size
			case "cpus":
				if cfg.IsOld {
					return cfg, fmt.Errorf("oldmainboard does not support cpus=")
				}
				n, nerr := ParseSize(opt.EqualOpt)
				if nerr != nil {
					return cfg, nerr
				}
				cfg.NumCPUs = int(n)
			}
		}

		if err != nil {
			break
		}
	}

	if !found {
		return cfg, fmt.Errorf("config: no mainboard/oldmainboard line found (slot 31 is required)")
	}
	if cfg.Slot != 31 {
		return cfg, fmt.Errorf("config: mainboard/oldmainboard must be in slot 31, found slot %d", cfg.Slot)
	}
	if cfg.RAMSize == 0 {
		return cfg, fmt.Errorf("config: mainboard requires ramsize=")
	}
	if cfg.NumCPUs < 1 || cfg.NumCPUs > 32 {
		return cfg, fmt.Errorf("config: cpus= must be between 1 and 32")
	}
	return cfg, nil
}
