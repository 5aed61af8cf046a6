package configparser

import (
	"os"
	"testing"
)

func resetModels() {
	models = map[string]modelDef{}
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "sys161-*.conf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

func TestLoadConfigFileParsesSlotDeviceOptions(t *testing.T) {
	resetModels()

	type call struct {
		slot    int
		options []Option
	}
	var got []call
	RegisterModel("DISK", TypeModel, func(slot int, arg string, options []Option) error {
		got = append(got, call{slot: slot, options: options})
		return nil
	})

	name := writeTempConfig(t, "# a comment\n31 mainboard\n0 disk file=disk0.img rpm=3600\n")
	RegisterModel("MAINBOARD", TypeModel, func(slot int, arg string, options []Option) error { return nil })

	if err := LoadConfigFile(name); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 disk call, got %d", len(got))
	}
	if got[0].slot != 0 {
		t.Fatalf("expected slot 0, got %d", got[0].slot)
	}
	if len(got[0].options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(got[0].options))
	}
	if got[0].options[0].Name != "file" || got[0].options[0].EqualOpt != "disk0.img" {
		t.Fatalf("unexpected first option: %+v", got[0].options[0])
	}
	if got[0].options[1].Name != "rpm" || got[0].options[1].EqualOpt != "3600" {
		t.Fatalf("unexpected second option: %+v", got[0].options[1])
	}
}

func TestLoadConfigFileRejectsUnknownDevice(t *testing.T) {
	resetModels()
	name := writeTempConfig(t, "3 frobnicator\n")
	if err := LoadConfigFile(name); err == nil {
		t.Fatal("expected an error for an unregistered device")
	}
}

func TestLoadConfigFileRejectsMissingSlot(t *testing.T) {
	resetModels()
	RegisterModel("DISK", TypeModel, func(slot int, arg string, options []Option) error { return nil })
	name := writeTempConfig(t, "disk\n")
	if err := LoadConfigFile(name); err == nil {
		t.Fatal("expected an error when a slot device line has no slot number")
	}
}

func TestLoadConfigFileGlobalOption(t *testing.T) {
	resetModels()
	var gotValue string
	RegisterOption("RAMSIZE", func(slot int, arg string, options []Option) error {
		gotValue = arg
		return nil
	})
	name := writeTempConfig(t, "ramsize 8388608\n")
	if err := LoadConfigFile(name); err != nil {
		t.Fatal(err)
	}
	if gotValue != "8388608" {
		t.Fatalf("got %q", gotValue)
	}
}

func TestLoadConfigFileSwitch(t *testing.T) {
	resetModels()
	fired := false
	RegisterSwitch("PARANOID", func(slot int, arg string, options []Option) error {
		fired = true
		return nil
	})
	name := writeTempConfig(t, "paranoid\n")
	if err := LoadConfigFile(name); err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("expected the switch handler to fire")
	}
}

func TestLoadConfigFileIgnoresBlankAndCommentLines(t *testing.T) {
	resetModels()
	RegisterModel("DISK", TypeModel, func(slot int, arg string, options []Option) error { return nil })
	name := writeTempConfig(t, "\n# nothing here\n   \n0 disk\n")
	if err := LoadConfigFile(name); err != nil {
		t.Fatal(err)
	}
}
