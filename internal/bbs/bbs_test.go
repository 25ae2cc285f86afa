package bbs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/htstation/internal/bbs/games"
	"github.com/doismellburning/htstation/internal/storage"
)

type recordingLink struct {
	sent []string
}

func (r *recordingLink) Send(data []byte, immediate bool) {
	r.sent = append(r.sent, string(data))
}

func (r *recordingLink) all() string { return strings.Join(r.sent, "") }

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "bbs"))
	require.NoError(t, err)

	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv := New(Config{
		LocalCallsign: "KK7VZT-1",
		PubFilesRoot:  dir,
		Games:         games.NewRegistry(games.NewGuessModule(10, 3, func() int { return 5 })),
		Now:           func() time.Time { return fixed },
	}, db, nil)
	return srv, func() { _ = db.Close() }
}

func TestWelcomeBannerEntersMainMenu(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	link := &recordingLink{}
	srv.HandleConnect(link, "N0CALL")
	assert.Contains(t, link.all(), "KK7VZT-1 BBS")

	srv.mu.Lock()
	c := srv.callers[link]
	srv.mu.Unlock()
	require.NotNil(t, c)
	assert.Equal(t, MenuMain, c.menu)
}

func TestBulletinCreateListDelete(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	link := &recordingLink{}
	srv.HandleConnect(link, "N0CALL")
	srv.HandleData(link, []byte("newb\r\n"))
	srv.HandleData(link, []byte("Hello world\r\n"))
	srv.HandleData(link, []byte("\r\n"))
	assert.Contains(t, link.all(), "posted")

	srv.HandleData(link, []byte("b\r\n"))
	assert.Contains(t, link.all(), "Hello world")

	srv.HandleData(link, []byte("delb 1\r\n"))
	assert.Contains(t, link.all(), "deleted")
}

func TestBulletinLimitPerCaller(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for i := 0; i < 4; i++ {
		_, err := srv.bulletins.Create("N0CALL", "msg")
		if i < 3 {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
			assert.Contains(t, err.Error(), "maximum of 3")
		}
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	link := &recordingLink{}
	srv.HandleConnect(link, "N0CALL")
	srv.HandleData(link, []byte("download nope.txt\r\n"))
	assert.Contains(t, link.all(), "File not found")
}

func TestDownloadExistingFileStartsYapp(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, os.WriteFile(filepath.Join(srv.cfg.PubFilesRoot, "readme.txt"), []byte("hi"), 0o644))

	link := &recordingLink{}
	srv.HandleConnect(link, "N0CALL")
	srv.HandleData(link, []byte("download readme.txt\r\n"))

	srv.mu.Lock()
	c := srv.callers[link]
	srv.mu.Unlock()
	assert.NotNil(t, c.yappSender)
}

func TestGamesMenuAndPlay(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	link := &recordingLink{}
	srv.HandleConnect(link, "N0CALL")
	srv.HandleData(link, []byte("games\r\n"))
	assert.Contains(t, link.all(), "guess")

	srv.HandleData(link, []byte("guess\r\n"))
	srv.HandleData(link, []byte("5\r\n"))
	assert.Contains(t, link.all(), "Correct")
}

func TestDisconnectRecordsConnLog(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	link := &recordingLink{}
	srv.HandleConnect(link, "N0CALL")
	srv.HandleDisconnect(link)

	link2 := &recordingLink{}
	srv.HandleConnect(link2, "W1AW")
	srv.HandleData(link2, []byte("lc\r\n"))
	assert.Contains(t, link2.all(), "N0CALL")
}
