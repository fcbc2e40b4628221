package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/chainstream/internal/config"
)

// ApplicationName is reported to the server so gap-writer sessions show up
// in pg_stat_activity.
const ApplicationName = "chainstream"

// BuildConnString builds a PostgreSQL connection URL from config. User,
// password and database name are escaped; IPv6 hosts are bracketed.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
