package store

import "fmt"

// Options selects and configures a Store backend.
type Options struct {
	Backend     string // memory|bolt|sqlite|mysql|consul
	Path        string // bolt file or sqlite dsn
	DSN         string // mysql dsn; MySQLDSNFromEnv when empty
	ConsulAddr  string
	ConsulToken string
}

func Open(o Options) (Store, error) {
	switch o.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt":
		if o.Path == "" {
			return nil, fmt.Errorf("bolt store requires a path")
		}
		return NewBoltStore(o.Path)
	case "sqlite":
		return NewSQLStore("sqlite", o.Path)
	case "mysql":
		dsn := o.DSN
		if dsn == "" {
			dsn = MySQLDSNFromEnv()
		}
		return NewSQLStore("mysql", dsn)
	case "consul":
		return NewConsulStore(o.ConsulAddr, o.ConsulToken)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", o.Backend)
	}
}
