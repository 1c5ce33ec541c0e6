// Package davxml builds WebDAV request bodies and parses multistatus
// responses for the CardDAV/CalDAV properties the sync engines need.
package davxml

import "github.com/beevik/etree"

// Namespace map for declaration on request roots
var NamespaceMap = map[string]string{
	"d":    "DAV:",
	"cal":  "urn:ietf:params:xml:ns:caldav",
	"card": "urn:ietf:params:xml:ns:carddav",
	"cs":   "http://calendarserver.org/ns/",
	"ical": "http://apple.com/ns/ical/",
}

// Prefix map for each property and child element
var PropPrefixMap = map[string]string{
	// WebDAV properties (d: prefix)
	"displayname":                "d",
	"resourcetype":               "d",
	"getetag":                    "d",
	"getcontenttype":             "d",
	"owner":                      "d",
	"current-user-principal":     "d",
	"principal-url":              "d",
	"current-user-privilege-set": "d",
	"group-membership":           "d",
	"sync-token":                 "d",
	// child elements
	"collection": "d",
	"principal":  "d",
	"href":       "d",
	"privilege":  "d",
	"prop":       "d",

	// CalDAV properties (cal: prefix)
	"calendar-description":             "cal",
	"calendar-timezone":                "cal",
	"calendar-data":                    "cal",
	"supported-calendar-component-set": "cal",
	"calendar-home-set":                "cal",
	"calendar":                         "cal",
	"comp":                             "cal",

	// CardDAV properties (card: prefix)
	"addressbook-description": "card",
	"addressbook-home-set":    "card",
	"supported-address-data":  "card",
	"address-data":            "card",
	"addressbook":             "card",

	// Apple CalendarServer extensions (cs: prefix)
	"getctag":                  "cs",
	"calendar-proxy-read-for":  "cs",
	"calendar-proxy-write-for": "cs",
	"source":                   "cs",
	"subscribed":               "cs",

	// Apple iCal extensions (ical: prefix)
	"calendar-color": "ical",
}

// createElement creates an element with the namespace prefix taken from
// PropPrefixMap. If the name is not found in the map, it defaults to "d".
func createElement(name string) *etree.Element {
	prefix, exists := PropPrefixMap[name]
	if !exists {
		prefix = "d"
	}
	elem := etree.NewElement(name)
	elem.Space = prefix
	return elem
}

// declareNamespaces adds all known namespace declarations to a request root.
func declareNamespaces(root *etree.Element) {
	root.CreateAttr("xmlns:d", NamespaceMap["d"])
	root.CreateAttr("xmlns:cal", NamespaceMap["cal"])
	root.CreateAttr("xmlns:card", NamespaceMap["card"])
	root.CreateAttr("xmlns:cs", NamespaceMap["cs"])
	root.CreateAttr("xmlns:ical", NamespaceMap["ical"])
}
