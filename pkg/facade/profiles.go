package facade

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"astrobridge/pkg/store"
)

// Profiles is the part of the profile store the façade reads.
type Profiles interface {
	Servers() ([]store.Server, error)
	DeviceProfiles() ([]store.DeviceProfile, error)
}

var _ Profiles = (*store.Store)(nil)

// LoadProfiles connects every auto-connect server, then connects the
// auto-connect devices and applies their stored settings. It keeps going
// past failures and returns them joined, along with the number of servers
// attached.
func (f *Facade) LoadProfiles(ctx context.Context, p Profiles) (int, error) {
	servers, err := p.Servers()
	if err != nil {
		return 0, fmt.Errorf("reading servers: %w", err)
	}
	var errs []error
	attached := 0
	for _, srv := range servers {
		if !srv.AutoConnect {
			continue
		}
		if err := f.ConnectServer(ctx, srv.Backend, srv.Host, srv.Port); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Address(), err))
			continue
		}
		attached++
	}

	profiles, err := p.DeviceProfiles()
	if err != nil {
		errs = append(errs, fmt.Errorf("reading device profiles: %w", err))
		return attached, errors.Join(errs...)
	}
	for _, dp := range profiles {
		if _, ok := f.devices.Get(dp.Name); !ok {
			f.logger.Debugf("Profile %q has no matching device", dp.Name)
			continue
		}
		if dp.AutoConnect {
			if err := f.ConnectDevice(dp.Name); err != nil {
				errs = append(errs, fmt.Errorf("device %s: %w", dp.Name, err))
				continue
			}
		}
		for _, name := range sortedKeys(dp.Settings) {
			if err := f.SetProperty(dp.Name, name, dp.Settings[name]); err != nil {
				errs = append(errs, fmt.Errorf("device %s: %s: %w", dp.Name, name, err))
			}
		}
	}
	return attached, errors.Join(errs...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
