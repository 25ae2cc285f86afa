// Package bbs implements the bulletin-board server (§4.4 C10): a
// menu-driven command interpreter with in-band YAPP file transfer,
// layered over an already-open AX.25 session.
package bbs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/htstation/internal/bbs/games"
	"github.com/doismellburning/htstation/internal/storage"
	"github.com/doismellburning/htstation/internal/yapp"
)

// MenuState names one of the BBS's command-interpreter states (§4.4).
type MenuState string

const (
	MenuMain           MenuState = "main"
	MenuGames          MenuState = "games"
	MenuBulletinCreate MenuState = "bulletin_create"
	MenuBulletinDelete MenuState = "bulletin_delete"
	MenuFiles          MenuState = "files"
	MenuGamePlay       MenuState = "game_play"
)

// ConnLogEntry is one row of the "lc" (last connections) report.
type ConnLogEntry struct {
	Callsign   string
	ConnectedAt time.Time
	Duration   time.Duration
}

// AprsRecordSummary is the subset of an APRS log record the "aprsmsgs"
// command displays; the APRS handler (C11) is the source of truth.
type AprsRecordSummary struct {
	When time.Time
	From string
	To   string
	Text string
}

// AprsSource supplies the most recent APRS records for "aprsmsgs".
type AprsSource interface {
	Recent(n int) []AprsRecordSummary
}

// Link is the per-connection transport a Server talks over — an
// ax25session.Session satisfies this directly.
type Link interface {
	Send(data []byte, immediate bool)
}

// Config parameterizes a Server.
type Config struct {
	LocalCallsign string
	PubFilesRoot  string
	Games         *games.Registry
	Aprs          AprsSource
	Now           func() time.Time
}

// Server is the BBS application server. One Server handles every
// concurrent caller session; per-caller state lives in caller.
type Server struct {
	cfg       Config
	db        *storage.Storage
	bulletins *bulletinStore
	log       *log.Logger
	startedAt time.Time

	mu      sync.Mutex
	callers map[Link]*caller
	connLog []ConnLogEntry
}

// caller holds the state of one connected BBS session.
type caller struct {
	callsign    string
	link        Link
	menu        MenuState
	connectedAt time.Time
	draftText   strings.Builder
	game        games.Session
	yappSender  *yapp.Sender
}

// New creates a Server backed by db for bulletin persistence.
func New(cfg Config, db *storage.Storage, logger *log.Logger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Games == nil {
		cfg.Games = games.NewRegistry()
	}
	return &Server{
		cfg:       cfg,
		db:        db,
		bulletins: newBulletinStore(db, cfg.Now),
		log:       logger,
		startedAt: cfg.Now(),
		callers:   make(map[Link]*caller),
	}
}

// HandleConnect welcomes a newly-accepted caller and enters menu "main"
// (§4.4 "welcomes the caller ... and enters menu state main").
func (s *Server) HandleConnect(link Link, remoteCallsign string) {
	s.mu.Lock()
	lastSeen := "never"
	for _, e := range s.connLog { // newest first
		if e.Callsign == remoteCallsign {
			lastSeen = e.ConnectedAt.Format(time.RFC822)
			break
		}
	}
	c := &caller{callsign: remoteCallsign, link: link, menu: MenuMain, connectedAt: s.cfg.Now()}
	s.callers[link] = c
	s.mu.Unlock()

	banner := fmt.Sprintf("%s BBS\r\nLast seen: %s\r\n%s\r\n",
		s.cfg.LocalCallsign, lastSeen, mainMenuText)
	link.Send([]byte(banner), true)
}

// HandleDisconnect records the connection-log entry for link's caller
// and drops its state.
func (s *Server) HandleDisconnect(link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.callers[link]
	if !ok {
		return
	}
	delete(s.callers, link)

	entry := ConnLogEntry{Callsign: c.callsign, ConnectedAt: c.connectedAt, Duration: s.cfg.Now().Sub(c.connectedAt)}
	s.connLog = append([]ConnLogEntry{entry}, s.connLog...)
	if len(s.connLog) > 20 {
		s.connLog = s.connLog[:20]
	}
}

const mainMenuText = "[M]ENU [T]IME UPTIME LC APRSMSGS [B]ULL NEWB DELB [F]ILES DOWNLOAD <name> [G]AMES BYE"

// HandleData processes one inbound data payload for link. While a YAPP
// transfer owns the session, data is handed to it whole and never
// parsed as a command (§4.4 "Concurrency in BBS").
func (s *Server) HandleData(link Link, data []byte) {
	s.mu.Lock()
	c, ok := s.callers[link]
	s.mu.Unlock()
	if !ok {
		return
	}

	if c.yappSender != nil {
		if err := c.yappSender.Feed(data); err != nil {
			s.log.Warn("yapp feed error", "callsign", c.callsign, "err", err)
		}
		return
	}

	line := strings.TrimRight(string(data), "\r\n")
	s.dispatch(c, line)
}

func (s *Server) dispatch(c *caller, line string) {
	switch c.menu {
	case MenuBulletinCreate:
		s.handleBulletinCreate(c, line)
		return
	case MenuGamePlay:
		s.handleGameInput(c, line)
		return
	}

	cmd := strings.ToLower(strings.TrimSpace(line))
	fields := strings.Fields(cmd)
	verb := ""
	if len(fields) > 0 {
		verb = fields[0]
	}

	switch {
	case verb == "m" || verb == "menu":
		c.link.Send([]byte(mainMenuText+"\r\n"), true)
	case verb == "t" || verb == "time":
		c.link.Send([]byte(s.cfg.Now().Format(time.RFC1123)+"\r\n"), true)
	case verb == "uptime":
		c.link.Send([]byte(s.cfg.Now().Sub(s.startedAt).String()+"\r\n"), true)
	case verb == "lc":
		s.handleLC(c)
	case verb == "aprsmsgs":
		s.handleAprsMsgs(c)
	case verb == "b" || verb == "bull":
		s.handleBulletinList(c)
	case verb == "newb":
		c.menu = MenuBulletinCreate
		c.draftText.Reset()
		c.link.Send([]byte("Enter bulletin text, end with a blank line:\r\n"), true)
	case verb == "delb":
		s.handleDeleteBulletin(c, fields)
	case verb == "f" || verb == "files":
		s.handleFileList(c)
	case verb == "download":
		s.handleDownload(c, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0])))
	case verb == "g" || verb == "games":
		s.handleGamesMenu(c)
	case verb == "bye":
		c.link.Send([]byte("73!\r\n"), true)
	default:
		if c.menu == MenuGames {
			s.handleGameSelect(c, verb)
			return
		}
		c.link.Send([]byte("Unknown command. Type 'm' for menu.\r\n"), true)
	}
}

func (s *Server) handleLC(c *caller) {
	s.mu.Lock()
	entries := append([]ConnLogEntry(nil), s.connLog...)
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d connections:\r\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s (%s)\r\n", e.Callsign, e.ConnectedAt.Format(time.RFC822), e.Duration.Round(time.Second))
	}
	c.link.Send([]byte(b.String()), true)
}

func (s *Server) handleAprsMsgs(c *caller) {
	if s.cfg.Aprs == nil {
		c.link.Send([]byte("No APRS records available.\r\n"), true)
		return
	}
	records := s.cfg.Aprs.Recent(20)
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d APRS messages:\r\n", len(records))
	for _, r := range records {
		fmt.Fprintf(&b, "%s %s->%s: %s\r\n", r.When.Format("15:04"), r.From, r.To, r.Text)
	}
	c.link.Send([]byte(b.String()), true)
}

func (s *Server) handleBulletinList(c *caller) {
	all, err := s.bulletins.All()
	if err != nil {
		c.link.Send([]byte("Bulletin board unavailable.\r\n"), true)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d bulletins:\r\n", len(all))
	for _, bull := range all {
		fmt.Fprintf(&b, "#%d %s: %s\r\n", bull.ID, bull.Author, bull.Text)
	}
	c.link.Send([]byte(b.String()), true)
}

func (s *Server) handleBulletinCreate(c *caller, line string) {
	if line == "" {
		text := c.draftText.String()
		bull, err := s.bulletins.Create(c.callsign, text)
		c.menu = MenuMain
		if err != nil {
			c.link.Send([]byte(fmt.Sprintf("Bulletin rejected: %s\r\n", err)), true)
			return
		}
		c.link.Send([]byte(fmt.Sprintf("Bulletin #%d posted.\r\n", bull.ID)), true)
		return
	}
	if c.draftText.Len() > 0 {
		c.draftText.WriteByte('\n')
	}
	c.draftText.WriteString(line)
}

func (s *Server) handleDeleteBulletin(c *caller, fields []string) {
	if len(fields) < 2 {
		c.link.Send([]byte("Usage: delb <id>\r\n"), true)
		return
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		c.link.Send([]byte("Usage: delb <id>\r\n"), true)
		return
	}
	if err := s.bulletins.Delete(c.callsign, id); err != nil {
		c.link.Send([]byte(fmt.Sprintf("Could not delete: %s\r\n", err)), true)
		return
	}
	c.link.Send([]byte(fmt.Sprintf("Bulletin #%d deleted.\r\n", id)), true)
}

func (s *Server) handleGamesMenu(c *caller) {
	c.menu = MenuGames
	var b strings.Builder
	b.WriteString("Games:\r\n")
	for _, g := range s.cfg.Games.List() {
		fmt.Fprintf(&b, "%s - %s\r\n", g.Name(), g.Description())
	}
	b.WriteString("Type a game name, or 'm' for main menu.\r\n")
	c.link.Send([]byte(b.String()), true)
}

func (s *Server) handleGameSelect(c *caller, name string) {
	mod, ok := s.cfg.Games.Get(name)
	if !ok {
		c.link.Send([]byte("No such game. Type 'm' for main menu.\r\n"), true)
		return
	}
	c.game = mod.Start()
	c.menu = MenuGamePlay
	c.link.Send([]byte(c.game.Prompt()), true)
}

func (s *Server) handleGameInput(c *caller, line string) {
	reply, done := c.game.HandleInput(line)
	c.link.Send([]byte(reply+"\r\n"), true)
	if done {
		c.game = nil
		c.menu = MenuMain
		c.link.Send([]byte(mainMenuText+"\r\n"), true)
		return
	}
	c.link.Send([]byte(c.game.Prompt()), true)
}

type pubFile struct {
	relPath string
	size    int64
}

func (s *Server) listPubFiles() ([]pubFile, error) {
	var files []pubFile
	root := s.cfg.PubFilesRoot
	if root == "" {
		return nil, nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, pubFile{relPath: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	return files, nil
}

func (s *Server) handleFileList(c *caller) {
	files, err := s.listPubFiles()
	if err != nil {
		c.link.Send([]byte("Files unavailable.\r\n"), true)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d files:\r\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "%s (%d bytes)\r\n", f.relPath, f.size)
	}
	c.link.Send([]byte(b.String()), true)
}

// handleDownload resolves name case-insensitively within PubFilesRoot
// and begins a YAPP send over the same session (§4.4 "A YAPP send is
// initialized on the same session; no textual messages are emitted
// around the transfer to avoid protocol interference").
func (s *Server) handleDownload(c *caller, name string) {
	if name == "" {
		c.link.Send([]byte("Usage: download <name>\r\n"), true)
		return
	}
	files, err := s.listPubFiles()
	if err != nil {
		c.link.Send([]byte("Files unavailable.\r\n"), true)
		return
	}
	var match *pubFile
	for i := range files {
		if strings.EqualFold(filepath.Base(files[i].relPath), name) {
			match = &files[i]
			break
		}
	}
	if match == nil {
		c.link.Send([]byte(fmt.Sprintf("File not found: %s\r\n", name)), true)
		return
	}

	f, err := os.Open(filepath.Join(s.cfg.PubFilesRoot, match.relPath))
	if err != nil {
		c.link.Send([]byte("Could not open file.\r\n"), true)
		return
	}

	c.yappSender = yapp.NewSender(c.link, s.log, yapp.File{
		Name:   filepath.Base(match.relPath),
		Size:   match.size,
		Reader: f,
	}, yapp.SenderCallbacks{
		OnComplete: func() {
			_ = f.Close()
			s.finishTransfer(c, "Transfer complete.")
		},
		OnCancel: func(reason string) {
			_ = f.Close()
			s.finishTransfer(c, "Transfer cancelled: "+reason)
		},
	})
	c.yappSender.Start()
}

func (s *Server) finishTransfer(c *caller, notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.yappSender = nil
	c.menu = MenuMain
	c.link.Send([]byte(notice+"\r\n"+mainMenuText+"\r\n"), true)
}
