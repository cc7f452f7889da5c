package jukebox

import (
	"math/rand"
	"sync"
)

// Track is one playable library entry.
type Track struct {
	ID    string
	Title string
	URL   string
}

// Library is the track source the controller walks. Implementations must be
// safe for concurrent use.
type Library interface {
	// Current returns the track at the cursor, if any.
	Current() (Track, bool)

	// Next advances the cursor and returns the new current track.
	Next() (Track, bool)

	// Previous moves the cursor back and returns the new current track.
	Previous() (Track, bool)

	// Add appends a track to the list.
	Add(t Track)

	// Remove deletes the first track whose ID or title matches key.
	Remove(key string) bool

	// Clear empties the list.
	Clear()

	// Shuffle reorders the list, keeping the current track at the cursor.
	Shuffle()
}

// Playlist is an in-memory Library.
type Playlist struct {
	mu     sync.Mutex
	tracks []Track
	cursor int
}

// NewPlaylist creates a Playlist with the given initial tracks.
func NewPlaylist(tracks ...Track) *Playlist {
	return &Playlist{tracks: tracks}
}

// Current returns the track at the cursor, if any.
func (p *Playlist) Current() (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor < 0 || p.cursor >= len(p.tracks) {
		return Track{}, false
	}
	return p.tracks[p.cursor], true
}

// Next advances the cursor, wrapping to the start.
func (p *Playlist) Next() (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tracks) == 0 {
		return Track{}, false
	}
	p.cursor = (p.cursor + 1) % len(p.tracks)
	return p.tracks[p.cursor], true
}

// Previous moves the cursor back, wrapping to the end.
func (p *Playlist) Previous() (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tracks) == 0 {
		return Track{}, false
	}
	p.cursor = (p.cursor - 1 + len(p.tracks)) % len(p.tracks)
	return p.tracks[p.cursor], true
}

// Add appends a track.
func (p *Playlist) Add(t Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
}

// Remove deletes the first track matching key by ID or title.
func (p *Playlist) Remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tracks {
		if t.ID == key || t.Title == key {
			p.tracks = append(p.tracks[:i], p.tracks[i+1:]...)
			if p.cursor > i || p.cursor >= len(p.tracks) {
				p.cursor--
			}
			if p.cursor < 0 {
				p.cursor = 0
			}
			return true
		}
	}
	return false
}

// Clear empties the list and resets the cursor.
func (p *Playlist) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = nil
	p.cursor = 0
}

// Shuffle reorders the list, moving the current track to the cursor's new
// position zero.
func (p *Playlist) Shuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tracks) < 2 {
		return
	}
	current := p.tracks[p.cursor]
	rest := make([]Track, 0, len(p.tracks)-1)
	for i, t := range p.tracks {
		if i != p.cursor {
			rest = append(rest, t)
		}
	}
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	p.tracks = append([]Track{current}, rest...)
	p.cursor = 0
}

// Len returns the number of tracks.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

// Ensure Playlist implements Library at compile time.
var _ Library = (*Playlist)(nil)
