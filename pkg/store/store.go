// Package store persists server and device profiles and the MQTT bridge
// settings in a bbolt database. Values are stored as JSON.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"astrobridge/pkg/device"
)

const (
	serversBucket  = "servers"
	devicesBucket  = "devices"
	settingsBucket = "settings"
	mqttKey        = "mqtt"
)

var ErrNotFound = errors.New("not found")

// Server is a configured Alpaca or INDI server.
type Server struct {
	Name        string         `json:"name" yaml:"name"`
	Backend     device.Backend `json:"backend" yaml:"backend"`
	Host        string         `json:"host" yaml:"host"`
	Port        int            `json:"port" yaml:"port"`
	AutoConnect bool           `json:"autoConnect" yaml:"autoConnect"`
}

func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Server) key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Backend.String() + "://" + s.Address()
}

// DeviceProfile holds per-device settings applied after connecting, keyed
// by flattened property name.
type DeviceProfile struct {
	Name        string         `json:"name" yaml:"name"`
	AutoConnect bool           `json:"autoConnect" yaml:"autoConnect"`
	Settings    map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// MQTTConfig configures the MQTT event bridge.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Broker    string `json:"broker" yaml:"broker"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	ClientID  string `json:"clientId" yaml:"clientId"`
	TopicRoot string `json:"topicRoot" yaml:"topicRoot"`
	QoS       byte   `json:"qos" yaml:"qos"`
	Retain    bool   `json:"retain" yaml:"retain"`
}

var DefaultMQTTConfig = MQTTConfig{
	Broker:    "tcp://localhost:1883",
	ClientID:  "astrobridge",
	TopicRoot: "astrobridge",
}

type Store struct {
	db    *bolt.DB
	owned bool
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an already open database and sets default values if they are
// not already set.
func New(db *bolt.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.setDefaults(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database if it was opened by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) setDefaults() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{serversBucket, devicesBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := s.MQTTConfig(); errors.Is(err, ErrNotFound) {
		log.Infof("Setting default MQTT config")
		return s.SetMQTTConfig(DefaultMQTTConfig)
	}
	return nil
}

func (s *Store) put(bucket, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

func (s *Store) get(bucket, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if value == nil {
			return fmt.Errorf("%s %q: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(value, v)
	})
}

func (s *Store) remove(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%s %q: %w", bucket, key, ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

// list decodes every value of bucket in key order.
func list[T any](s *Store, bucket string) ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, value []byte) error {
			var v T
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("%s %q: %w", bucket, k, err)
			}
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

// SaveServer adds or replaces a server, keyed by name or, without a name,
// by backend and address.
func (s *Store) SaveServer(srv Server) error {
	if srv.Host == "" || srv.Port <= 0 {
		return fmt.Errorf("server %q needs a host and a port", srv.Name)
	}
	return s.put(serversBucket, srv.key(), srv)
}

func (s *Store) Servers() ([]Server, error) {
	return list[Server](s, serversBucket)
}

func (s *Store) Server(name string) (Server, error) {
	var srv Server
	err := s.get(serversBucket, name, &srv)
	return srv, err
}

func (s *Store) DeleteServer(name string) error {
	return s.remove(serversBucket, name)
}

func (s *Store) SaveDeviceProfile(p DeviceProfile) error {
	if p.Name == "" {
		return errors.New("device profile needs a name")
	}
	return s.put(devicesBucket, p.Name, p)
}

func (s *Store) DeviceProfiles() ([]DeviceProfile, error) {
	return list[DeviceProfile](s, devicesBucket)
}

func (s *Store) DeviceProfile(name string) (DeviceProfile, error) {
	var p DeviceProfile
	err := s.get(devicesBucket, name, &p)
	return p, err
}

func (s *Store) DeleteDeviceProfile(name string) error {
	return s.remove(devicesBucket, name)
}

func (s *Store) MQTTConfig() (MQTTConfig, error) {
	var cfg MQTTConfig
	err := s.get(settingsBucket, mqttKey, &cfg)
	return cfg, err
}

func (s *Store) SetMQTTConfig(cfg MQTTConfig) error {
	return s.put(settingsBucket, mqttKey, cfg)
}
