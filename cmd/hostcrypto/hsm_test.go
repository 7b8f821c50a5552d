package main

import "testing"

func TestU_MaskSerial(t *testing.T) {
	tests := []struct {
		name   string
		serial string
		want   string
	}{
		{"[Unit] MaskSerial: empty", "", ""},
		{"[Unit] MaskSerial: short", "1234", "1234"},
		{"[Unit] MaskSerial: padded", "  1234  ", "1234"},
		{"[Unit] MaskSerial: long", "0123456789", "012******9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSerial(tt.serial); got != tt.want {
				t.Errorf("maskSerial(%q) = %q, want %q", tt.serial, got, tt.want)
			}
		})
	}
}

func TestF_HSM_List_LibraryNotFound(t *testing.T) {
	tc := newTestContext(t)

	_, err := tc.run("hsm", "list", "--lib", tc.path("nonexistent.so"))
	assertError(t, err)
}

func TestF_HSM_Test_ConfigNotFound(t *testing.T) {
	tc := newTestContext(t)

	_, err := tc.run("hsm", "test", "--hsm-config", tc.path("nonexistent.yaml"))
	assertError(t, err)
}

func TestF_HSM_Test_ConfigInvalid(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("hsm.yaml", "lib: [unclosed")

	_, err := tc.run("hsm", "test", "--hsm-config", path)
	assertError(t, err)
}
