package db

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/sitepack/sitepack/internal/util"
)

type MySQLAdapter struct {
	allowMissingTools bool
}

func NewMySQLAdapter(allowMissingTools bool) *MySQLAdapter {
	return &MySQLAdapter{allowMissingTools: allowMissingTools}
}

func (m *MySQLAdapter) Name() string { return EngineMySQL }

func (m *MySQLAdapter) Validate(ctx context.Context, conn ConnInfo) error {
	if conn.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if !m.allowMissingTools {
		if err := util.RequireBinary("mysqldump"); err != nil {
			return err
		}
		if err := util.RequireBinary("mysql"); err != nil {
			return err
		}
	}
	if err := util.RequireBinary("mysqladmin"); err == nil {
		cmd := exec.CommandContext(ctx, "mysqladmin", "ping", "-h", conn.Host, "-P", portOrDefault(conn.Port), "-u", conn.Username)
		cmd.Env = util.MergeEnv(buildEnv(conn))
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%w: mysqladmin ping: %v", ErrOperation, err)
		}
	}
	return nil
}

// Dump streams a text-format SQL export of the database. The fixed
// flags keep the dump transactionally consistent and complete enough to
// recreate routines and triggers on the destination.
func (m *MySQLAdapter) Dump(ctx context.Context, conn ConnInfo) (*DumpStream, error) {
	if !m.allowMissingTools {
		if err := util.RequireBinary("mysqldump"); err != nil {
			return nil, err
		}
	}
	args := []string{
		"--single-transaction", "--routines", "--triggers",
		"-h", conn.Host, "-P", portOrDefault(conn.Port), "-u", conn.Username,
		conn.Database,
	}
	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	cmd.Env = util.MergeEnv(buildEnv(conn))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: mysqldump: %v", ErrOperation, err)
	}
	return &DumpStream{
		Reader: stdout,
		Wait: func() error {
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("%w: mysqldump: %v", ErrOperation, err)
			}
			return nil
		},
	}, nil
}

// Restore feeds a SQL dump into the destination database via the engine
// client.
func (m *MySQLAdapter) Restore(ctx context.Context, conn ConnInfo) (*RestoreStream, error) {
	if !m.allowMissingTools {
		if err := util.RequireBinary("mysql"); err != nil {
			return nil, err
		}
	}
	args := []string{"-h", conn.Host, "-P", portOrDefault(conn.Port), "-u", conn.Username, conn.Database}
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Env = util.MergeEnv(buildEnv(conn))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: mysql: %v", ErrOperation, err)
	}
	return &RestoreStream{
		Writer: stdin,
		Wait: func() error {
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("%w: mysql: %v", ErrOperation, err)
			}
			return nil
		},
	}, nil
}

func buildEnv(conn ConnInfo) []string {
	env := []string{}
	if conn.Password != "" {
		// Passed via environment so the password never shows in ps.
		env = append(env, "MYSQL_PWD="+conn.Password)
	}
	return env
}

func portOrDefault(port int) string {
	if port == 0 {
		port = 3306
	}
	return strconv.Itoa(port)
}
