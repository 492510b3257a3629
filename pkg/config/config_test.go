package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"probetherm/pkg/errors"
)

const sampleConfig = `
# probetherm host configuration
[mcu]
serial: /dev/ttyACM0
baud = 250000

[probe]
sensor_type: simulated
poll_interval: 0.25

[heater_bed]
heater_pin: 18
control: bang_bang
`

func TestLoadStringSections(t *testing.T) {
	c, err := LoadString(sampleConfig)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	for _, name := range []string{"mcu", "probe", "heater_bed"} {
		if !c.HasSection(name) {
			t.Errorf("missing section %q", name)
		}
	}
	if c.HasSection("extruder") {
		t.Errorf("unexpected section 'extruder'")
	}
}

func TestOptionSeparators(t *testing.T) {
	c, err := LoadString(sampleConfig)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	sec, err := c.GetSection("mcu")
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	serial, err := sec.Get("serial")
	if err != nil || serial != "/dev/ttyACM0" {
		t.Errorf("serial = %q, %v", serial, err)
	}
	baud, err := sec.GetInt("baud")
	if err != nil || baud != 250000 {
		t.Errorf("baud = %d, %v", baud, err)
	}
}

func TestCommentsStripped(t *testing.T) {
	c, err := LoadString("[probe]\npoll_interval: 0.5 # seconds\n# whole line comment\n")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	sec, _ := c.GetSection("probe")
	v, err := sec.GetFloat("poll_interval")
	if err != nil || v != 0.5 {
		t.Errorf("poll_interval = %v, %v", v, err)
	}
}

func TestOptionsBeforeSectionIgnored(t *testing.T) {
	c, err := LoadString("orphan: 1\n[mcu]\nserial: /dev/null\n")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	sec, _ := c.GetSection("mcu")
	if sec.HasOption("orphan") {
		t.Errorf("orphan option leaked into [mcu]")
	}
}

func TestDuplicateSectionsMerge(t *testing.T) {
	c, err := LoadString("[mcu]\nserial: /dev/ttyACM0\n[mcu]\nbaud: 115200\nserial: /dev/ttyUSB0\n")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	sec, _ := c.GetSection("mcu")
	serial, _ := sec.Get("serial")
	if serial != "/dev/ttyUSB0" {
		t.Errorf("serial = %q, want later value to win", serial)
	}
	if baud, _ := sec.GetInt("baud"); baud != 115200 {
		t.Errorf("baud = %d", baud)
	}
}

func TestGetSectionMissing(t *testing.T) {
	c, _ := LoadString(sampleConfig)
	_, err := c.GetSection("display")
	if err == nil {
		t.Fatalf("expected error for missing section")
	}
	if !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
	if c.GetSectionOptional("display") != nil {
		t.Errorf("GetSectionOptional returned non-nil for missing section")
	}
}

func TestGetFallbacks(t *testing.T) {
	c, _ := LoadString("[api]\n")
	sec, _ := c.GetSection("api")
	if v, err := sec.Get("listen", "127.0.0.1:7125"); err != nil || v != "127.0.0.1:7125" {
		t.Errorf("Get fallback = %q, %v", v, err)
	}
	if v, err := sec.GetInt("max_clients", 8); err != nil || v != 8 {
		t.Errorf("GetInt fallback = %d, %v", v, err)
	}
	if v, err := sec.GetFloat("timeout", 5.0); err != nil || v != 5.0 {
		t.Errorf("GetFloat fallback = %v, %v", v, err)
	}
	if v, err := sec.GetBool("enabled", true); err != nil || v != true {
		t.Errorf("GetBool fallback = %v, %v", v, err)
	}
	if _, err := sec.Get("listen"); err == nil {
		t.Errorf("expected error for missing option without fallback")
	}
}

func TestGetIntBadValue(t *testing.T) {
	c, _ := LoadString("[mcu]\nbaud: fast\n")
	sec, _ := c.GetSection("mcu")
	_, err := sec.GetInt("baud")
	if !errors.Is(err, errors.ErrConfigType) {
		t.Errorf("expected type error, got %v", err)
	}
}

func TestGetBoolVariants(t *testing.T) {
	c, _ := LoadString("[a]\nx1: 1\nx2: True\nx3: YES\nx4: on\ny1: 0\ny2: false\ny3: No\ny4: OFF\nz: maybe\n")
	sec, _ := c.GetSection("a")
	for _, opt := range []string{"x1", "x2", "x3", "x4"} {
		if v, err := sec.GetBool(opt); err != nil || !v {
			t.Errorf("GetBool(%s) = %v, %v, want true", opt, v, err)
		}
	}
	for _, opt := range []string{"y1", "y2", "y3", "y4"} {
		if v, err := sec.GetBool(opt); err != nil || v {
			t.Errorf("GetBool(%s) = %v, %v, want false", opt, v, err)
		}
	}
	if _, err := sec.GetBool("z"); err == nil {
		t.Errorf("GetBool(maybe) should fail")
	}
}

func TestGetChoice(t *testing.T) {
	c, _ := LoadString("[probe]\nsensor_type: DS18B20\n")
	sec, _ := c.GetSection("probe")
	v, err := sec.GetChoice("sensor_type", []string{"simulated", "ds18b20", "mcu"})
	if err != nil || v != "ds18b20" {
		t.Errorf("GetChoice = %q, %v, want canonical spelling", v, err)
	}
	c2, _ := LoadString("[probe]\nsensor_type: thermistor\n")
	sec2, _ := c2.GetSection("probe")
	if _, err := sec2.GetChoice("sensor_type", []string{"simulated", "ds18b20", "mcu"}); err == nil {
		t.Errorf("expected error for invalid choice")
	}
}

func TestFloatBounds(t *testing.T) {
	c, _ := LoadString("[probe]\npoll_interval: 0\nmax_temp: 400\n")
	sec, _ := c.GetSection("probe")
	zero := 0.0
	if _, err := sec.GetFloatWithBounds("poll_interval", FloatBounds{Above: &zero}); err == nil {
		t.Errorf("expected error for poll_interval not above 0")
	}
	maxAllowed := 300.0
	if _, err := sec.GetFloatWithBounds("max_temp", FloatBounds{MaxVal: &maxAllowed}); err == nil {
		t.Errorf("expected error for max_temp over maximum")
	}
	if v, err := sec.GetFloatWithBounds("missing", FloatBounds{Above: &zero}, 1.0); err != nil || v != 1.0 {
		t.Errorf("bounds fallback = %v, %v", v, err)
	}
}

func TestGetIntBounds(t *testing.T) {
	c, _ := LoadString("[mqtt]\nqos: 5\n")
	sec, _ := c.GetSection("mqtt")
	lo, hi := 0, 2
	if _, err := sec.GetIntWithBounds("qos", &lo, &hi); err == nil {
		t.Errorf("expected error for qos outside 0:2")
	}
}

func TestGetList(t *testing.T) {
	c, _ := LoadString("[api]\nallowed_origins: http://a, http://b , ,http://c\n")
	sec, _ := c.GetSection("api")
	list, err := sec.GetList("allowed_origins", ",")
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	want := []string{"http://a", "http://b", "http://c"}
	if len(list) != len(want) {
		t.Fatalf("list = %v, want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, list[i], want[i])
		}
	}
}

func TestCheckUnused(t *testing.T) {
	c, _ := LoadString("[mcu]\nserial: /dev/null\nbaud: 250000\n[display]\ntype: none\n")
	sec, _ := c.GetSection("mcu")
	sec.Get("serial")

	err := c.CheckUnused()
	if err == nil {
		t.Fatalf("expected unused entries to be reported")
	}
	msg := err.Error()
	if !strings.Contains(msg, "baud") {
		t.Errorf("unused option 'baud' not reported: %v", msg)
	}
	if !strings.Contains(msg, "[display]") {
		t.Errorf("unused section [display] not reported: %v", msg)
	}

	sec.GetInt("baud")
	disp, _ := c.GetSection("display")
	disp.Get("type")
	if err := c.CheckUnused(); err != nil {
		t.Errorf("CheckUnused after full access: %v", err)
	}
}

func TestGetPrefixSections(t *testing.T) {
	c, _ := LoadString("[extruder]\nx: 1\n[heater_bed]\nx: 1\n[extruder1]\nx: 1\n")
	secs := c.GetPrefixSections("extruder")
	if len(secs) != 2 {
		t.Fatalf("got %d extruder sections, want 2", len(secs))
	}
	if secs[0].GetName() != "extruder" || secs[1].GetName() != "extruder1" {
		t.Errorf("prefix sections out of order: %s, %s", secs[0].GetName(), secs[1].GetName())
	}
	for _, name := range c.GetUnusedSections() {
		if strings.HasPrefix(name, "extruder") {
			t.Errorf("prefix access did not mark %s", name)
		}
	}
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "probetherm.cfg")
	extra := filepath.Join(dir, "heaters.cfg")
	writeFile(t, extra, "[heater_bed]\nheater_pin: 18\n")
	writeFile(t, main, "[mcu]\nserial: /dev/null\n[include heaters.cfg]\n[probe]\nsensor_type: simulated\n")

	c, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range []string{"mcu", "heater_bed", "probe"} {
		if !c.HasSection(name) {
			t.Errorf("missing section %q after include", name)
		}
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.cfg")
	b := filepath.Join(dir, "b.cfg")
	writeFile(t, a, "[include b.cfg]\n")
	writeFile(t, b, "[include a.cfg]\n")

	if _, err := Load(a); err == nil {
		t.Fatalf("expected include cycle error")
	}
}

func TestIncludeMissingFile(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.cfg")
	writeFile(t, main, "[include nonexistent.cfg]\n")
	if _, err := Load(main); err == nil {
		t.Fatalf("expected error for missing include")
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
