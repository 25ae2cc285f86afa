package bbs

import (
	"fmt"
	"sort"
	"time"

	"github.com/doismellburning/htstation/internal/storage"
)

// DefaultExpiry is how long a bulletin lives if not otherwise deleted
// (§4.4 "Default expiry is 7 days").
const DefaultExpiry = 7 * 24 * time.Hour

// MaxLiveBulletinsPerCaller caps how many non-expired bulletins one
// callsign may have outstanding (§4.4 "has <3 live bulletins").
const MaxLiveBulletinsPerCaller = 3

// MaxBulletinLength is the longest bulletin body accepted (§4.4 "≤300 chars").
const MaxBulletinLength = 300

// Bulletin is one BBS bulletin-board entry.
type Bulletin struct {
	ID        int       `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	ExpireAt  time.Time `json:"expireAt"`
}

type bulletinStore struct {
	db     *storage.Storage
	nextID int
	now    func() time.Time
}

func newBulletinStore(db *storage.Storage, now func() time.Time) *bulletinStore {
	return &bulletinStore{db: db, nextID: 1, now: now}
}

func bulletinKey(id int) string { return fmt.Sprintf("bulletin:%06d", id) }

// All returns every non-expired bulletin, oldest first, purging expired
// entries as a side effect (§4.4 "all reads purge expired entries first").
func (b *bulletinStore) All() ([]Bulletin, error) {
	keys := b.db.List("bulletin:%")
	now := b.now()
	var live []Bulletin
	for _, k := range keys {
		var bull Bulletin
		ok, err := b.db.Get(k, &bull)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if now.After(bull.ExpireAt) {
			_ = b.db.Delete(k)
			continue
		}
		live = append(live, bull)
		if bull.ID >= b.nextID {
			b.nextID = bull.ID + 1
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live, nil
}

// CountLive returns how many non-expired bulletins author currently has.
func (b *bulletinStore) CountLive(author string) (int, error) {
	all, err := b.All()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, bull := range all {
		if bull.Author == author {
			n++
		}
	}
	return n, nil
}

// Create adds a bulletin for author, enforcing length and the
// per-caller live-count cap.
func (b *bulletinStore) Create(author, text string) (Bulletin, error) {
	if text == "" {
		return Bulletin{}, fmt.Errorf("bulletin text must not be empty")
	}
	if len(text) > MaxBulletinLength {
		return Bulletin{}, fmt.Errorf("bulletin text exceeds %d characters", MaxBulletinLength)
	}
	count, err := b.CountLive(author)
	if err != nil {
		return Bulletin{}, err
	}
	if count >= MaxLiveBulletinsPerCaller {
		return Bulletin{}, fmt.Errorf("%s already has a maximum of %d live bulletins", author, MaxLiveBulletinsPerCaller)
	}

	bull := Bulletin{
		ID:        b.nextID,
		Author:    author,
		Text:      text,
		CreatedAt: b.now(),
		ExpireAt:  b.now().Add(DefaultExpiry),
	}
	b.nextID++

	if err := b.db.Save(bulletinKey(bull.ID), bull); err != nil {
		return Bulletin{}, err
	}
	return bull, nil
}

// Delete removes bulletin id if it belongs to author (§4.4 "restricts to
// the caller's own bulletins by id").
func (b *bulletinStore) Delete(author string, id int) error {
	var bull Bulletin
	ok, err := b.db.Get(bulletinKey(id), &bull)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bulletin %d not found", id)
	}
	if bull.Author != author {
		return fmt.Errorf("bulletin %d does not belong to %s", id, author)
	}
	return b.db.Delete(bulletinKey(id))
}
