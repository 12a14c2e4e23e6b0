package logsplit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment(t *testing.T) {
	t.Run("NilSettings", func(t *testing.T) {
		_, err := NewEnvironment(context.Background(), nil)
		assert.Error(t, err)
	})
	t.Run("InvalidSettings", func(t *testing.T) {
		_, err := NewEnvironment(context.Background(), &Settings{Split: SplitSettings{MaxChunkSize: -1}})
		assert.Error(t, err)
	})
	t.Run("UnreachableDatabase", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := NewEnvironment(ctx, &Settings{
			Database: DBSettings{Url: "localhost:1"},
			LogPath:  filepath.Join(t.TempDir(), "logsplit.log"),
		})
		assert.Error(t, err)
	})
	t.Run("ClosersRunInReverse", func(t *testing.T) {
		env := &Environment{}
		order := []int{}
		for i := 0; i < 3; i++ {
			env.RegisterCloser(func(context.Context) error {
				order = append(order, i)
				return nil
			})
		}
		env.RegisterCloser(func(context.Context) error { return errors.New("close failed") })

		assert.Error(t, env.Close(context.Background()))
		assert.Equal(t, []int{2, 1, 0}, order)
		require.NoError(t, env.Close(context.Background()))
	})
}
