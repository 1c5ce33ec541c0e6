package davxml

import (
	"fmt"

	"github.com/beevik/etree"
)

// Propfind builds a PROPFIND request body asking for the given properties.
func Propfind(props ...string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("propfind")
	root.Space = "d"
	declareNamespaces(root)

	prop := root.CreateElement("prop")
	prop.Space = "d"
	for _, name := range props {
		prop.AddChild(createElement(name))
	}

	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize propfind: %w", err)
	}
	return body, nil
}

// CalendarQuery builds a calendar-query REPORT body listing the hrefs and
// ETags of all objects whose top component matches comp (VEVENT or VTODO).
func CalendarQuery(comp string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("calendar-query")
	root.Space = "cal"
	declareNamespaces(root)

	prop := root.CreateElement("prop")
	prop.Space = "d"
	prop.AddChild(createElement("getetag"))

	filter := root.CreateElement("filter")
	filter.Space = "cal"
	outer := filter.CreateElement("comp-filter")
	outer.Space = "cal"
	outer.CreateAttr("name", "VCALENDAR")
	inner := outer.CreateElement("comp-filter")
	inner.Space = "cal"
	inner.CreateAttr("name", comp)

	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize calendar-query: %w", err)
	}
	return body, nil
}

// AddressbookQuery builds an addressbook-query REPORT body listing the hrefs
// and ETags of all address objects in a collection.
func AddressbookQuery() ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("addressbook-query")
	root.Space = "card"
	declareNamespaces(root)

	prop := root.CreateElement("prop")
	prop.Space = "d"
	prop.AddChild(createElement("getetag"))

	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize addressbook-query: %w", err)
	}
	return body, nil
}

// CalendarMultiget builds a calendar-multiget REPORT body fetching the
// calendar data and ETag of each given href.
func CalendarMultiget(hrefs []string) ([]byte, error) {
	return multiget("calendar-multiget", "cal", "calendar-data", hrefs)
}

// AddressbookMultiget builds an addressbook-multiget REPORT body fetching
// the address data and ETag of each given href.
func AddressbookMultiget(hrefs []string) ([]byte, error) {
	return multiget("addressbook-multiget", "card", "address-data", hrefs)
}

func multiget(reportName, prefix, dataProp string, hrefs []string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(reportName)
	root.Space = prefix
	declareNamespaces(root)

	prop := root.CreateElement("prop")
	prop.Space = "d"
	prop.AddChild(createElement("getetag"))
	prop.AddChild(createElement(dataProp))

	for _, href := range hrefs {
		h := root.CreateElement("href")
		h.Space = "d"
		h.SetText(href)
	}

	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", reportName, err)
	}
	return body, nil
}
