// README: Composer owns the response draft and validates attachments.
package response

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"trail/internal/apperr"
	"trail/internal/types"
)

type Composer struct {
	cfg Config

	pubMu sync.Mutex

	mu      sync.RWMutex
	draft   Draft
	subs    map[int]func(Draft)
	nextSub int
}

func NewComposer(taskID types.ID, cfg Config) *Composer {
	return &Composer{
		cfg:   cfg,
		draft: Draft{TaskID: taskID},
		subs:  make(map[int]func(Draft)),
	}
}

func (c *Composer) SetText(s string) {
	c.mutate(func(d *Draft) { d.Text = strings.TrimSpace(s) })
}

// SelectLocation sets the chosen location; an empty ref clears it.
func (c *Composer) SelectLocation(ref types.ID) {
	c.mutate(func(d *Draft) { d.LocationID = ref })
}

// SetDeviceCoordinate attaches the device coordinate; nil clears it.
func (c *Composer) SetDeviceCoordinate(pt *types.Point) error {
	if pt != nil {
		if err := pt.Validate(); err != nil {
			return err
		}
		cp := *pt
		pt = &cp
	}
	c.mutate(func(d *Draft) { d.Coordinate = pt })
	return nil
}

// AddFile validates and attaches one file. The type is sniffed from the
// content. A rejected file leaves the already attached files untouched.
func (c *Composer) AddFile(name string, content []byte) (File, error) {
	const op = "response.add_file"

	if err := c.checkFile(op, name, content); err != nil {
		return File{}, err
	}
	f := File{
		ID:          types.NewID(),
		Name:        name,
		Size:        int64(len(content)),
		ContentType: mimetype.Detect(content).String(),
		Content:     content,
	}
	c.mutate(func(d *Draft) { d.Files = append(d.Files, f) })
	return f, nil
}

func (c *Composer) RemoveFile(id types.ID) error {
	var found bool
	c.mutate(func(d *Draft) {
		for i, f := range d.Files {
			if f.ID == id {
				d.Files = append(d.Files[:i:i], d.Files[i+1:]...)
				found = true
				return
			}
		}
	})
	if !found {
		return apperr.E(apperr.KindNotFound, "response.remove_file", "file not attached", ErrFileNotFound)
	}
	return nil
}

func (c *Composer) IsSubmittable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.draft.IsSubmittable()
}

// Reset clears every field of the draft, attachments included.
func (c *Composer) Reset() {
	c.mutate(func(d *Draft) { *d = Draft{TaskID: d.TaskID} })
}

// Snapshot returns a copy of the draft that later edits do not affect.
func (c *Composer) Snapshot() Draft {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyDraft(c.draft)
}

// Subscribe registers fn for draft changes.
func (c *Composer) Subscribe(fn func(Draft)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Composer) checkFile(op, name string, content []byte) error {
	reject := func(msg string, cause error) error {
		return &apperr.Error{
			Kind:    apperr.KindValidation,
			Op:      op,
			Message: msg,
			Fields:  map[string]string{fileField(name): msg},
			Err:     cause,
		}
	}

	if len(content) == 0 {
		return reject("file is empty", ErrEmptyFile)
	}
	if c.cfg.MaxFileBytes > 0 && int64(len(content)) > c.cfg.MaxFileBytes {
		return reject(fmt.Sprintf("file is larger than %d bytes", c.cfg.MaxFileBytes), ErrFileTooLarge)
	}
	mt := mimetype.Detect(content)
	for _, allowed := range c.cfg.AllowedTypes {
		if mt.Is(allowed) {
			return nil
		}
	}
	return reject(fmt.Sprintf("file type %s is not allowed", mt.String()), ErrUnsupportedType)
}

func (c *Composer) mutate(fn func(*Draft)) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	fn(&c.draft)
	d := copyDraft(c.draft)
	subs := make([]func(Draft), 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s(d)
	}
}

func copyDraft(d Draft) Draft {
	out := d
	if d.Coordinate != nil {
		pt := *d.Coordinate
		out.Coordinate = &pt
	}
	out.Files = make([]File, len(d.Files))
	copy(out.Files, d.Files)
	return out
}

func fileField(name string) string {
	if name == "" {
		return "file"
	}
	return "file:" + name
}
