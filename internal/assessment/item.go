package assessment

import "time"

//
// Item is a live, registered assessment object.
//
// Parent is the NTIID of the single content unit that owns the item;
// lineage is always resolved through the registry, never through
// object pointers. Refs holds the ordered NTIIDs of constituent
// sub-items for composite kinds.
//
type Item struct {
	NTIID        string    `json:"ntiid"`
	Kind         Kind      `json:"kind"`
	MimeType     string    `json:"mimeType,omitempty"`
	Title        string    `json:"title,omitempty"`
	Content      string    `json:"content,omitempty"`
	Raw          string    `json:"raw,omitempty"`
	Signature    string    `json:"signature,omitempty"`
	CreatedTime  time.Time `json:"createdTime"`
	LastModified time.Time `json:"lastModified"`
	Locked       bool      `json:"locked,omitempty"`
	Parent       string    `json:"parent"`
	Refs         []string  `json:"refs,omitempty"`
}

// Key is the registry key of the item.
func (i *Item) Key() Key {
	return Key{Kind: i.Kind, NTIID: i.NTIID}
}

// Copy returns a value copy that shares no slices with the receiver.
func (i *Item) Copy() Item {
	c := *i
	if i.Refs != nil {
		c.Refs = append([]string(nil), i.Refs...)
	}
	return c
}

// Key identifies one registry slot.
type Key struct {
	Kind  Kind
	NTIID string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.NTIID
}
