// Package registry lists the smart plugs the system samples.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// Lister returns the registered devices.
type Lister interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// FileRegistry reads devices from a JSON array of {"id", "name"} objects.
// The file is read on every call so edits apply without a restart.
type FileRegistry struct {
	Path string
}

// ListDevices returns the devices in file order. A missing file is an empty registry.
func (r FileRegistry) ListDevices(ctx context.Context) ([]models.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Device{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a devices document. Entries without an id are skipped; a blank
// name falls back to the id.
func Parse(raw []byte) ([]models.Device, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []models.Device{}, nil
	}

	var entries []models.Device
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode devices file: %w", err)
	}

	devices := make([]models.Device, 0, len(entries))
	for _, d := range entries {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			continue
		}
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			d.Name = d.ID
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Static is a fixed in-memory registry.
type Static []models.Device

// ListDevices implements Lister.
func (s Static) ListDevices(context.Context) ([]models.Device, error) {
	return append([]models.Device(nil), s...), nil
}
