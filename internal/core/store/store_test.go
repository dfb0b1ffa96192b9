package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threadgate/threadgate/internal/config"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StoreConfig
		want target
	}{
		{
			name: "remote with token",
			cfg:  config.StoreConfig{URL: "libsql://db.turso.io", AuthToken: "tok"},
			want: target{dsn: "libsql://db.turso.io?authToken=tok"},
		},
		{
			name: "remote keeps existing token",
			cfg:  config.StoreConfig{URL: "libsql://db.turso.io?authToken=old", AuthToken: "tok"},
			want: target{dsn: "libsql://db.turso.io?authToken=old"},
		},
		{
			name: "memory",
			cfg:  config.StoreConfig{Path: ":memory:"},
			want: target{dsn: ":memory:", local: true},
		},
		{
			name: "file scheme",
			cfg:  config.StoreConfig{Path: "file:data/threadgate.db"},
			want: target{dsn: "file:data/threadgate.db", dir: "data", local: true},
		},
		{
			name: "bare path",
			cfg:  config.StoreConfig{Path: "var/lib/threadgate/../tg.db"},
			want: target{dsn: "file:var/lib/tg.db", dir: "var/lib", local: true},
		},
		{
			name: "bare file in cwd",
			cfg:  config.StoreConfig{Path: "tg.db"},
			want: target{dsn: "file:tg.db", local: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTarget(tt.cfg)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := resolveTarget(config.StoreConfig{})
	require.Error(t, err)
}

func TestAccountQueryValidate(t *testing.T) {
	require.Error(t, AccountQuery{}.Validate())
	require.NoError(t, AccountQuery{All: true}.Validate())
	require.NoError(t, AccountQuery{ID: "acct-1"}.Validate())

	where, args, err := AccountQuery{Tier: " PRO "}.whereClause()
	require.NoError(t, err)
	require.Equal(t, "WHERE tier = ?", where)
	require.Equal(t, []any{"pro"}, args)

	where, args, err = AccountQuery{All: true, ID: "ignored"}.whereClause()
	require.NoError(t, err)
	require.Empty(t, where)
	require.Nil(t, args)
}
