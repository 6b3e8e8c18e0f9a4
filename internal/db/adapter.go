package db

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnsupportedEngine indicates a configured engine other than the
	// single supported one.
	ErrUnsupportedEngine = errors.New("unsupported database engine")
	// ErrOperation indicates a non-zero exit from the engine tool.
	ErrOperation = errors.New("database operation failed")
)

const EngineMySQL = "mysql"

// ConnInfo carries the connection parameters for one site database.
type ConnInfo struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Adapter wraps the external dump/load tooling of the database engine.
type Adapter interface {
	Name() string
	Validate(ctx context.Context, conn ConnInfo) error
	Dump(ctx context.Context, conn ConnInfo) (*DumpStream, error)
	Restore(ctx context.Context, conn ConnInfo) (*RestoreStream, error)
}

type DumpStream struct {
	Reader io.ReadCloser
	Wait   func() error
}

type RestoreStream struct {
	Writer io.WriteCloser
	Wait   func() error
}

// NewAdapter returns the adapter for engine. Only MySQL/MariaDB dumps
// are supported; everything else is rejected up front.
func NewAdapter(engine string, allowMissingTools bool) (Adapter, error) {
	switch engine {
	case EngineMySQL, "mariadb":
		return NewMySQLAdapter(allowMissingTools), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEngine, engine)
	}
}
