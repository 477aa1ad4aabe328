package main

import (
	"flag"
	"testing"
)

func TestParseReplicaOf(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"10.0.0.1 6399", "10.0.0.1:6399", false},
		{"  master   6379 ", "master:6379", false},
		{"master:6379", "master:6379", false},
		{"master", "", true},
		{"master port", "", true},
		{"a b c", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseReplicaOf(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseReplicaOf(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseReplicaOf(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("STORMDB_PORT", "7000")
	t.Setenv("STORMDB_FSYNC_EVERY", "5")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	port := fs.Int("port", 6399, "")
	every := fs.Int("fsync-every", 100, "")
	host := fs.String("host", "127.0.0.1", "")

	if err := applyEnv(fs); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse([]string{"--fsync-every", "9"}); err != nil {
		t.Fatal(err)
	}

	if *port != 7000 {
		t.Errorf("port = %d, want value from environment", *port)
	}
	if *every != 9 {
		t.Errorf("fsync-every = %d, want command line value", *every)
	}
	if *host != "127.0.0.1" {
		t.Errorf("host = %q, want default", *host)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("STORMDB_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("port", 6399, "")
	if err := applyEnv(fs); err == nil {
		t.Error("applyEnv() accepted an invalid port")
	}
}
