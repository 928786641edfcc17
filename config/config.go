// Package config loads the YAML configuration of the echo tool and lets the
// components read typed values from it by dotted key.
package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

type C struct {
	l    *logrus.Logger
	path string

	mu          sync.RWMutex
	settings    map[string]any
	oldSettings map[string]any

	reloadLock sync.Mutex
	callbacks  []func(*C)
}

func NewC(l *logrus.Logger) *C {
	return &C{
		l:        l,
		settings: make(map[string]any),
	}
}

// Load reads path, a file or a directory of .yaml/.yml files merged in
// lexical order, and replaces the current settings with it.
func (c *C) Load(path string) error {
	docs, err := ReadConfigFiles(path)
	if err != nil {
		return err
	}

	var merged map[string]any
	for _, doc := range docs {
		var m map[string]any
		if err := yaml.Unmarshal(doc.Data, &m); err != nil {
			return fmt.Errorf("%s: %w", doc.Path, err)
		}

		// Later files win, lists from every file are kept.
		if err := mergo.Merge(&m, merged, mergo.WithAppendSlice); err != nil {
			return fmt.Errorf("%s: %w", doc.Path, err)
		}
		merged = m
	}

	c.path = path
	c.set(merged)
	return nil
}

func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("empty configuration")
	}

	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}
	c.set(m)
	return nil
}

func (c *C) set(m map[string]any) {
	if m == nil {
		m = make(map[string]any)
	}
	c.mu.Lock()
	c.settings = m
	c.mu.Unlock()
}

// RegisterReloadCallback adds f to the functions run after every successful
// reload. Callbacks should use HasChanged to skip work and must not block.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.reloadLock.Lock()
	c.callbacks = append(c.callbacks, f)
	c.reloadLock.Unlock()
}

// HasChanged reports whether the value under k differs between the current
// settings and the ones before the last reload. An empty k compares
// everything. Values are compared by their YAML encoding.
func (c *C) HasChanged(k string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.oldSettings == nil {
		return false
	}

	nv, ov := any(c.settings), any(c.oldSettings)
	if k != "" {
		nv, ov = lookup(k, c.settings), lookup(k, c.oldSettings)
	}

	nb, err := yaml.Marshal(nv)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Error("Error while marshaling new config")
	}
	ob, err := yaml.Marshal(ov)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Error("Error while marshaling old config")
	}
	return string(nb) != string(ob)
}

// CatchHUP reloads the configuration from the path given to Load whenever the
// process receives SIGHUP, until ctx ends.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				c.l.Info("Caught HUP, reloading config")
				c.ReloadConfig()
			}
		}
	}()
}

func (c *C) ReloadConfig() {
	err := c.reload(func() error { return c.Load(c.path) })
	if err != nil {
		c.l.WithField("config_path", c.path).WithError(err).Error("Error occurred while reloading config")
	}
}

func (c *C) ReloadConfigString(raw string) error {
	return c.reload(func() error { return c.LoadString(raw) })
}

func (c *C) reload(load func() error) error {
	c.reloadLock.Lock()
	defer c.reloadLock.Unlock()

	c.mu.RLock()
	old := maps.Clone(c.settings)
	c.mu.RUnlock()

	if err := load(); err != nil {
		return err
	}

	c.mu.Lock()
	c.oldSettings = old
	c.mu.Unlock()

	for _, f := range c.callbacks {
		f(c)
	}
	return nil
}

func (c *C) Get(k string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(k, c.settings)
}

func lookup(k string, v any) any {
	for p := range strings.SplitSeq(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		if v, ok = m[p]; !ok {
			return nil
		}
	}
	return v
}

// GetString returns the value of k formatted as a string, or d if k is not
// set.
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}
	return fmt.Sprintf("%v", r)
}

// GetInt returns k as an int, or d if it is not set or not an integer.
func (c *C) GetInt(k string, d int) int {
	v, err := strconv.Atoi(c.GetString(k, strconv.Itoa(d)))
	if err != nil {
		return d
	}
	return v
}

// GetUint16 is GetInt limited to the uint16 range. Out of range values
// return d.
func (c *C) GetUint16(k string, d uint16) uint16 {
	return getUnsigned(c, k, d, math.MaxUint16)
}

// GetUint32 is GetInt limited to the uint32 range. Out of range values
// return d.
func (c *C) GetUint32(k string, d uint32) uint32 {
	return getUnsigned(c, k, d, math.MaxUint32)
}

func getUnsigned[T uint16 | uint32](c *C, k string, d T, limit uint64) T {
	r := c.GetInt(k, int(d))
	if r < 0 || uint64(r) > limit {
		return d
	}
	return T(r)
}

// GetBool returns k as a bool. Besides the forms strconv accepts, y/yes and
// n/no are understood in any case.
func (c *C) GetBool(k string, d bool) bool {
	r := strings.ToLower(c.GetString(k, strconv.FormatBool(d)))
	if v, ok := AsBool(r); ok {
		return v
	}
	v, err := strconv.ParseBool(r)
	if err != nil {
		return d
	}
	return v
}

func AsBool(v any) (value bool, ok bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(x) {
		case "y", "yes":
			return true, true
		case "n", "no":
			return false, true
		}
	}
	return false, false
}

// GetDuration returns k parsed with time.ParseDuration, or d.
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	v, err := time.ParseDuration(c.GetString(k, ""))
	if err != nil {
		return d
	}
	return v
}
