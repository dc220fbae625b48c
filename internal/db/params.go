package db

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"

	"hps-conditions/internal/domain"
)

// ConnectionParameters describe how to reach the conditions database.
type ConnectionParameters struct {
	Driver       string        `default:"sqlite3" validate:"required,oneof=sqlite3 mysql pgx"`
	Host         string        `default:"localhost" validate:"required_unless=Driver sqlite3"`
	Port         int           `validate:"gte=0,lte=65535"`
	Database     string        `default:"hps_conditions.sqlite" validate:"required"`
	User         string        `validate:"required_unless=Driver sqlite3"`
	Password     string        //nolint:gosec // redacted in String()
	LoginTimeout time.Duration `default:"5s" validate:"gte=0s"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize applies defaults and validates the parameters. Driver aliases
// are resolved and a zero port is replaced by the dialect's default.
func (p *ConnectionParameters) Normalize() error {
	if err := defaults.Set(p); err != nil {
		return domain.ErrConfiguration("connection parameters: %v", err)
	}
	d, err := DialectFor(p.Driver)
	if err != nil {
		return domain.ErrConfiguration("connection parameters: %v", err)
	}
	p.Driver = d.Name
	if p.Port == 0 {
		p.Port = d.DefaultPort
	}
	if err := validate.Struct(p); err != nil {
		return domain.ErrConfiguration("connection parameters: %v", err)
	}
	return nil
}

// String renders the parameters for logging with the password redacted.
func (p ConnectionParameters) String() string {
	pw := ""
	if p.Password != "" {
		pw = "****"
	}
	if p.Driver == DriverSQLite {
		return fmt.Sprintf("driver=%s database=%s", p.Driver, p.Database)
	}
	return fmt.Sprintf("driver=%s host=%s port=%d database=%s user=%s password=%s login_timeout=%s",
		p.Driver, p.Host, p.Port, p.Database, p.User, pw, p.LoginTimeout)
}

// ConnectionParametersFromProperties builds parameters from the keys of a
// connection .properties file: hostname, port, user, password, database,
// driver and loginTimeout (seconds).
func ConnectionParametersFromProperties(props map[string]string) (ConnectionParameters, error) {
	p := ConnectionParameters{
		Driver:   props["driver"],
		Host:     props["hostname"],
		Database: props["database"],
		User:     props["user"],
		Password: props["password"],
	}
	if s := strings.TrimSpace(props["port"]); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return p, domain.ErrConfiguration("invalid port %q in connection properties", s)
		}
		p.Port = port
	}
	if s := strings.TrimSpace(props["loginTimeout"]); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil {
			return p, domain.ErrConfiguration("invalid loginTimeout %q in connection properties", s)
		}
		p.LoginTimeout = time.Duration(secs) * time.Second
	}
	if err := p.Normalize(); err != nil {
		return p, err
	}
	return p, nil
}

// mysqlDSN renders the go-sql-driver/mysql DSN.
func (p ConnectionParameters) mysqlDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	cfg.DBName = p.Database
	cfg.Timeout = p.LoginTimeout
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// postgresURL renders a postgres connection URL for pgx.
func (p ConnectionParameters) postgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	q := url.Values{}
	if p.LoginTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(p.LoginTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
