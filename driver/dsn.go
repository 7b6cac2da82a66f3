package driver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/duckstax/otterbrix-go/bridge"
)

// Scheme is the DSN scheme accepted by the driver.
const Scheme = "otterbrix"

// DSN is a parsed data source name:
//
//	otterbrix:///var/lib/otterbrix?log_level=info&wal=true&disk=true&sync=true&database=db&collection=coll
//
// The path is the base directory for the log, wal and disk directories. An
// empty path uses the working directory.
type DSN struct {
	Config     bridge.Config
	Database   string
	Collection string
}

// ParseDSN parses a data source name.
func ParseDSN(s string) (*DSN, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("parse dsn: unsupported scheme %q", u.Scheme)
	}
	if u.Host != "" {
		return nil, fmt.Errorf("parse dsn: unexpected host %q, use %s:///path", u.Host, Scheme)
	}

	d := &DSN{Config: bridge.DefaultConfig()}
	if u.Path != "" {
		d.Config = bridge.ConfigAt(u.Path)
	}

	q := u.Query()
	var errs []error

	if v := q.Get("log_level"); v != "" {
		level, err := bridge.ParseLogLevel(v)
		errs = append(errs, err)
		d.Config.Level = level
	}
	for key, dst := range map[string]*bool{
		"wal":  &d.Config.WALOn,
		"disk": &d.Config.DiskOn,
		"sync": &d.Config.SyncToDisk,
	} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = b
	}
	d.Database = q.Get("database")
	d.Collection = q.Get("collection")

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	return d, nil
}

// String formats d back into a data source name.
func (d *DSN) String() string {
	q := url.Values{}
	q.Set("log_level", d.Config.Level.String())
	q.Set("wal", strconv.FormatBool(d.Config.WALOn))
	q.Set("disk", strconv.FormatBool(d.Config.DiskOn))
	q.Set("sync", strconv.FormatBool(d.Config.SyncToDisk))
	if d.Database != "" {
		q.Set("database", d.Database)
	}
	if d.Collection != "" {
		q.Set("collection", d.Collection)
	}

	u := url.URL{
		Scheme:   Scheme,
		Path:     baseDir(d.Config),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// baseDir recovers the base directory from the disk path.
func baseDir(cfg bridge.Config) string {
	dir := filepath.Dir(cfg.DiskPath)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return filepath.ToSlash(dir)
}
