// Package discovery generates Gopher-style menu frames from existing
// warren state (peers, federation anchors, trusted burrows), rather than
// running any network discovery protocol of its own — local-network peer
// discovery is explicitly out of scope (spec.md Non-goals). Each menu
// line follows "<type><label>\t<selector>\t<burrow>\t<hint>".
package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"rabbitwarren/federation"
	"rabbitwarren/frame"
	"rabbitwarren/router"
	"rabbitwarren/trust"
)

// menuFrame wraps body in a 200 MENU response frame.
func menuFrame(body string) *frame.Frame {
	f := frame.New("200")
	f.Args = []string{"MENU"}
	f.SetBody([]byte(body))
	return f
}

// ListPeersMenu lists every known direct peer as a directory entry
// (type "1"), with a selector of the form /1/peer/<id>.
func ListPeersMenu(wr *router.WarrenRouter) *frame.Frame {
	var body strings.Builder
	for _, p := range wr.ListPeers() {
		fmt.Fprintf(&body, "1%s\t/1/peer/%s\t%s\tlast_seen:%s\r\n",
			p.BurrowID, p.BurrowID, p.BurrowID, strconv.FormatInt(p.LastSeen.Unix(), 10))
	}
	return menuFrame(body.String())
}

// ListAnchorsMenu lists every known federation anchor as a trust entry
// (type "t"), with a selector of the form /t/anchor/<id>.
func ListAnchorsMenu(fm *federation.Manager) *frame.Frame {
	var body strings.Builder
	for _, a := range fm.ListAnchors() {
		fmt.Fprintf(&body, "t%s\t/t/anchor/%s\t%s\t%s\r\n",
			a.WarrenID, a.WarrenID, a.WarrenID, a.Domain)
	}
	return menuFrame(body.String())
}

// ListTrustedMenu lists every peer currently pinned via TOFU as a trust
// entry, with a selector of the form /t/trust/<id>.
func ListTrustedMenu(tc *trust.Cache) *frame.Frame {
	var body strings.Builder
	for _, p := range tc.ListTrusted() {
		anchor := p.AnchorID
		if anchor == "" {
			anchor = "-"
		}
		fmt.Fprintf(&body, "t%s\t/t/trust/%s\t%s\tanchor:%s\r\n",
			p.BurrowID, p.BurrowID, p.BurrowID, anchor)
	}
	return menuFrame(body.String())
}
