package mongoremote

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/config"
	"notespace/internal/remote"
	"notespace/internal/remote/remotetest"
)

func TestConformance_Mongo(t *testing.T) {
	uri := os.Getenv("NOTESPACE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("NOTESPACE_TEST_MONGO_URI not set")
	}
	remotetest.Run(t, func(t *testing.T) remote.Backend {
		name := "notespace_test_" + uuid.NewString()[:8]
		s, err := Open(context.Background(), uri, name)
		require.NoError(t, err)
		t.Cleanup(func() {
			// the suite closes s first, so drop through a fresh client
			if c, err := Open(context.Background(), uri, name); err == nil {
				_ = c.db.Drop(context.Background())
				_ = c.Close()
			}
		})
		return s
	})
}

func TestBuildURI(t *testing.T) {
	assert.Equal(t, "mongodb://db:27017", BuildURI(config.Remote{Host: "db"}, ""))
	assert.Equal(t, "mongodb://app:pw@db:27018", BuildURI(config.Remote{Host: "db", Port: 27018, Username: "app"}, "pw"))
	assert.Equal(t, "mongodb+srv://app:pw@cluster0.example.net/?retryWrites=true",
		BuildURI(config.Remote{DSN: "mongodb+srv://app:<password>@cluster0.example.net/?retryWrites=true"}, "pw"))
	assert.Equal(t, "mongodb://h:1", BuildURI(config.Remote{Host: "mongodb://h:1"}, ""))
}
