package config

import (
	"reflect"
	"strings"
)

// Attr is one named configuration attribute.
type Attr struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Group is a configuration group's attributes in declaration order.
type Group struct {
	Name  string `json:"name"`
	Attrs []Attr `json:"attrs"`
}

// GroupOrder is the fixed order in which groups are persisted and compared.
var GroupOrder = []string{"ap", "tp", "atmp", "cdip", "iop", "sp", "mp"}

// Groups flattens p into its named groups. Attribute order follows struct
// field declaration order and names come from the json tags, so the listing
// is stable across runs and matches the persisted snapshot.
func (p *Params) Groups() []Group {
	v := reflect.ValueOf(p).Elem()
	t := v.Type()
	groups := make([]Group, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		groups = append(groups, Group{
			Name:  tagName(t.Field(i)),
			Attrs: attrsOf(v.Field(i)),
		})
	}
	return groups
}

func attrsOf(v reflect.Value) []Attr {
	t := v.Type()
	attrs := make([]Attr, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		attrs = append(attrs, Attr{Name: tagName(f), Value: v.Field(i).Interface()})
	}
	return attrs
}

func tagName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}
