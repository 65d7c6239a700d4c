package updater

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kobgit/kob-git-updater/internal/models"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("acme/widget")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("Expected at most one holder per key, saw %d", maxActive)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock on a different key blocked")
	}
}

func TestInstallKeySharesPluginDirectory(t *testing.T) {
	tests := []struct {
		name string
		a, b *models.RepositoryConfig
		same bool
	}{
		{
			name: "plugins in one folder",
			a:    &models.RepositoryConfig{Owner: "acme", Repo: "one", Kind: models.KindPlugin, Slug: "shared/a.php"},
			b:    &models.RepositoryConfig{Owner: "other", Repo: "two", Kind: models.KindPlugin, Slug: "shared/b.php"},
			same: true,
		},
		{
			name: "plugin and theme with one name",
			a:    &models.RepositoryConfig{Owner: "acme", Repo: "one", Kind: models.KindPlugin, Slug: "shared/a.php"},
			b:    &models.RepositoryConfig{Owner: "acme", Repo: "two", Kind: models.KindTheme, Slug: "shared"},
		},
		{
			name: "different folders",
			a:    &models.RepositoryConfig{Owner: "acme", Repo: "one", Kind: models.KindPlugin, Slug: "one/one.php"},
			b:    &models.RepositoryConfig{Owner: "acme", Repo: "two", Kind: models.KindPlugin, Slug: "two/two.php"},
		},
	}

	for _, tt := range tests {
		if got := installKey(tt.a) == installKey(tt.b); got != tt.same {
			t.Errorf("%s: installKey(%s) == installKey(%s) is %v, want %v", tt.name, tt.a.Slug, tt.b.Slug, got, tt.same)
		}
	}
}
