package host

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AppID is hashed under the machine id so the published id is specific
// to this agent and cannot be reversed to the raw machine id.
var AppID = uuid.MustParse("860edfa6-72ea-11ef-99e1-dba127e5de37")

// DefaultMachineIDPath is where systemd stores the machine id.
const DefaultMachineIDPath = "/etc/machine-id"

// DeriveMachineID returns the first 16 bytes of
// HMAC-SHA256(key=raw, message=AppID) formatted as a UUID.
func DeriveMachineID(raw uuid.UUID) uuid.UUID {
	mac := hmac.New(sha256.New, raw[:])
	mac.Write(AppID[:])
	sum := mac.Sum(nil)

	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// ReadMachineID parses the machine id file at path.
func ReadMachineID(path string) (uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse machine id %s: %w", path, err)
	}
	return id, nil
}

// MachineID derives the published identifier from the machine id file.
// When that file does not exist, a persistent instance id stored in
// dataDir is used instead.
func MachineID(machineIDPath, dataDir string) (uuid.UUID, error) {
	if machineIDPath == "" {
		machineIDPath = DefaultMachineIDPath
	}

	raw, err := ReadMachineID(machineIDPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && dataDir != "":
		raw, err = LoadOrCreateInstanceID(dataDir)
		if err != nil {
			return uuid.Nil, err
		}
	default:
		return uuid.Nil, fmt.Errorf("read machine id: %w", err)
	}
	return DeriveMachineID(raw), nil
}

// LoadOrCreateInstanceID reads the instance ID from a file in dataDir,
// or generates a new UUIDv7 and persists it if the file does not exist.
func LoadOrCreateInstanceID(dataDir string) (uuid.UUID, error) {
	path := filepath.Join(dataDir, "instance_id")

	data, err := os.ReadFile(path)
	if err == nil {
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate instance ID: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id, nil
}
