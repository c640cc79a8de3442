// Package content defines the key space for cacheable content: Bible text
// chapters and audio narration, addressed by kind, book, chapter and
// translation or voice.
package content

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the two payload families.
type Kind string

const (
	// KindText is a chapter of Bible text in a given translation.
	KindText Kind = "text"

	// KindAudio is narrated audio for a chapter, in a given voice and quality.
	KindAudio Kind = "audio"
)

// Key identifies one piece of content. Keys are comparable and are used as
// map keys throughout the engine; the canonical string form doubles as the
// persistence key component and the remote path component.
//
// Text keys:  text/<book>/<chapter>/<translation>
// Audio keys: audio/<book>/<chapter>/<voice>/<quality>
type Key struct {
	Kind    Kind
	Book    string // canonical book id, e.g. "john", "psalms"
	Chapter int
	// Translation identifies the text edition, e.g. "kjv", "esv". Text only.
	Translation string
	// Voice identifies the narrator, audio only.
	Voice string
	// Quality is the audio bitrate tier, e.g. "low", "high". Audio only.
	Quality string
}

// TextKey builds a text content key.
func TextKey(book string, chapter int, translation string) Key {
	return Key{Kind: KindText, Book: book, Chapter: chapter, Translation: translation}
}

// AudioKey builds an audio content key.
func AudioKey(book string, chapter int, voice, quality string) Key {
	return Key{Kind: KindAudio, Book: book, Chapter: chapter, Voice: voice, Quality: quality}
}

// String returns the canonical form. Invalid keys still render (for error
// messages); use Validate to reject them.
func (k Key) String() string {
	switch k.Kind {
	case KindAudio:
		return fmt.Sprintf("audio/%s/%d/%s/%s", k.Book, k.Chapter, k.Voice, k.Quality)
	default:
		return fmt.Sprintf("text/%s/%d/%s", k.Book, k.Chapter, k.Translation)
	}
}

// Validate checks that all components required by the kind are present and
// free of the separator character.
func (k Key) Validate() error {
	switch k.Kind {
	case KindText:
		if k.Translation == "" {
			return fmt.Errorf("text key %q: missing translation", k.String())
		}
		if k.Voice != "" || k.Quality != "" {
			return fmt.Errorf("text key %q: voice/quality not allowed", k.String())
		}
	case KindAudio:
		if k.Voice == "" || k.Quality == "" {
			return fmt.Errorf("audio key %q: missing voice or quality", k.String())
		}
	default:
		return fmt.Errorf("unknown content kind %q", k.Kind)
	}

	if k.Book == "" {
		return fmt.Errorf("content key %q: missing book", k.String())
	}
	if k.Chapter < 1 {
		return fmt.Errorf("content key %q: chapter must be >= 1", k.String())
	}

	for _, part := range []string{k.Book, k.Translation, k.Voice, k.Quality} {
		if strings.Contains(part, "/") {
			return fmt.Errorf("content key component %q contains '/'", part)
		}
	}

	return nil
}

// ParseKey parses the canonical string form back into a Key.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 4 {
		return Key{}, fmt.Errorf("invalid content key %q", s)
	}

	chapter, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("invalid chapter in content key %q: %w", s, err)
	}

	var k Key
	switch Kind(parts[0]) {
	case KindText:
		if len(parts) != 4 {
			return Key{}, fmt.Errorf("invalid text key %q", s)
		}
		k = TextKey(parts[1], chapter, parts[3])
	case KindAudio:
		if len(parts) != 5 {
			return Key{}, fmt.Errorf("invalid audio key %q", s)
		}
		k = AudioKey(parts[1], chapter, parts[3], parts[4])
	default:
		return Key{}, fmt.Errorf("unknown content kind in key %q", s)
	}

	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
