package davxml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

// Multistatus is a parsed 207 Multi-Status response body.
type Multistatus struct {
	Responses []Response
}

// Response is one d:response element of a multistatus body. Props contains
// only the properties returned with a 2xx propstat status.
type Response struct {
	Href   string
	Status int // per-response status outside propstat, 0 if absent
	Props  PropSet
}

// PropSet maps lowercase property names to their parsed elements.
type PropSet map[string]*etree.Element

// ParseMultistatus parses a multistatus response body.
func ParseMultistatus(body []byte) (*Multistatus, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}

	root := doc.FindElement("//multistatus")
	if root == nil {
		return nil, fmt.Errorf("response has no multistatus element")
	}

	var ms Multistatus
	for _, respElem := range root.FindElements("response") {
		resp := Response{Props: make(PropSet)}

		if href := respElem.FindElement("href"); href != nil {
			resp.Href = strings.TrimSpace(href.Text())
		}
		for _, child := range respElem.ChildElements() {
			if child.Tag == "status" {
				resp.Status = parseStatus(child.Text())
			}
		}

		for _, propstat := range respElem.FindElements("propstat") {
			status := 0
			if s := propstat.FindElement("status"); s != nil {
				status = parseStatus(s.Text())
			}
			if status < 200 || status > 299 {
				continue
			}
			prop := propstat.FindElement("prop")
			if prop == nil {
				continue
			}
			for _, p := range prop.ChildElements() {
				resp.Props[strings.ToLower(p.Tag)] = p
			}
		}

		ms.Responses = append(ms.Responses, resp)
	}

	return &ms, nil
}

// parseStatus extracts the status code from a line like "HTTP/1.1 404 Not Found".
func parseStatus(line string) int {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// Has reports whether the property was returned with a 2xx status.
func (p PropSet) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Text returns the text content of a simple property.
func (p PropSet) Text(name string) mo.Option[string] {
	elem, ok := p[name]
	if !ok {
		return mo.None[string]()
	}
	return mo.Some(strings.TrimSpace(elem.Text()))
}

// Href returns the first d:href child of a property.
func (p PropSet) Href(name string) mo.Option[string] {
	hrefs := p.Hrefs(name)
	if len(hrefs) == 0 {
		return mo.None[string]()
	}
	return mo.Some(hrefs[0])
}

// Hrefs returns all d:href children of a property, in document order.
func (p PropSet) Hrefs(name string) []string {
	elem, ok := p[name]
	if !ok {
		return nil
	}
	var hrefs []string
	for _, child := range elem.ChildElements() {
		if child.Tag != "href" {
			continue
		}
		if text := strings.TrimSpace(child.Text()); text != "" {
			hrefs = append(hrefs, text)
		}
	}
	return hrefs
}

// ResourceTypes returns the lowercase child element names of resourcetype.
func (p PropSet) ResourceTypes() []string {
	elem, ok := p["resourcetype"]
	if !ok {
		return nil
	}
	var types []string
	for _, child := range elem.ChildElements() {
		types = append(types, strings.ToLower(child.Tag))
	}
	return types
}

func (p PropSet) hasResourceType(name string) bool {
	for _, t := range p.ResourceTypes() {
		if t == name {
			return true
		}
	}
	return false
}

// IsAddressBook reports whether resourcetype contains card:addressbook.
func (p PropSet) IsAddressBook() bool { return p.hasResourceType("addressbook") }

// IsCalendar reports whether resourcetype contains cal:calendar.
func (p PropSet) IsCalendar() bool { return p.hasResourceType("calendar") }

// IsSubscription reports whether resourcetype contains cs:subscribed.
func (p PropSet) IsSubscription() bool { return p.hasResourceType("subscribed") }

// MayBind inspects current-user-privilege-set and reports whether the
// current user may create members (all, write or bind privilege). Returns
// None if the property was not returned.
func (p PropSet) MayBind() mo.Option[bool] {
	elem, ok := p["current-user-privilege-set"]
	if !ok {
		return mo.None[bool]()
	}
	for _, priv := range elem.FindElements("privilege") {
		for _, grant := range priv.ChildElements() {
			switch strings.ToLower(grant.Tag) {
			case "all", "write", "bind":
				return mo.Some(true)
			}
		}
	}
	return mo.Some(false)
}

// Components returns the component names (VEVENT, VTODO, ...) declared in
// supported-calendar-component-set, or None if the property was absent.
func (p PropSet) Components() mo.Option[[]string] {
	elem, ok := p["supported-calendar-component-set"]
	if !ok {
		return mo.None[[]string]()
	}
	var comps []string
	for _, comp := range elem.FindElements("comp") {
		if name := comp.SelectAttrValue("name", ""); name != "" {
			comps = append(comps, strings.ToUpper(name))
		}
	}
	return mo.Some(comps)
}
