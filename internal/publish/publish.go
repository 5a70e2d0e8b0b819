// Package publish implements the recursive publication tree behind a
// composite subscription. Each node observes one live cursor and, for every
// document it publishes, spawns one node per declared child query bound to
// that document. All node methods run on the owning session's run loop.
package publish

import (
	"github.com/kartikbazzad/bunpub/internal/channel"
	"github.com/kartikbazzad/bunpub/internal/livequery"
	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/types"
)

// Publication declares one level of a composite query hierarchy. Find is
// invoked with the node's bound arguments: for the root these are the
// subscription arguments, for a child they are the parent document followed
// by the parent's own arguments.
type Publication struct {
	Find     livequery.FindFunc
	Children []*Publication
}

// Node is one instantiated level of the hierarchy, bound to a specific
// parent document (or to the subscription arguments for the root).
type Node struct {
	ch  *channel.Channel
	pub *Publication
	log *logger.Logger

	args       []interface{}
	cursor     livequery.Cursor
	collection string
	observers  []livequery.Observer

	// children maps a published document id to the child nodes spawned for
	// it. An entry exists for every currently published id, including an
	// empty one on leaf nodes, so presence doubles as the re-entrancy guard
	// against double-publishing an id.
	children map[string][]*Node
}

func NewNode(ch *channel.Channel, pub *Publication, args []interface{}, log *logger.Logger) *Node {
	return &Node{
		ch:       ch,
		pub:      pub,
		log:      log,
		args:     args,
		children: make(map[string][]*Node),
	}
}

// Publish resolves the node's cursor and starts observing it. A declined
// query (nil cursor) leaves the node inert, which is a valid terminal state.
// The current snapshot is published synchronously before Publish returns, so
// the caller sees a fully built subtree.
func (n *Node) Publish() error {
	n.cursor = nil

	cur, err := n.pub.Find(n.args...)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	n.cursor = cur
	n.collection = cur.Collection()

	n.observers = append(n.observers,
		cur.Observe(livequery.DocCallbacks{
			Added:   n.onAdded,
			Changed: n.onChanged,
			Removed: n.onRemoved,
		}),
		cur.ObserveChanges(livequery.ChangeCallbacks{
			Changed: n.onFieldsChanged,
		}),
	)

	for _, doc := range cur.Fetch() {
		n.onAdded(doc)
	}
	return nil
}

// Unpublish stops the node: observers first, then a removal for every
// document still in the result set, then the child subtrees. After it
// returns the client has seen a removal for everything this node and its
// descendants ever claimed.
func (n *Node) Unpublish() {
	n.stopObservers()
	n.removeAllDocuments()
	n.unpublishAllChildren()
}

func (n *Node) onAdded(doc types.Document) {
	if _, published := n.children[doc.ID]; published {
		// Already published through this node. Reconcile the client's copy
		// against the full document (a change event queued behind the
		// republish may never be delivered, so fields the document dropped
		// have to be cleared here) and rebind the children.
		n.ch.Replace(n.collection, doc)
		n.republishChildrenOf(doc)
		return
	}

	n.ch.Added(n.collection, doc)
	n.publishChildrenOf(doc)
}

// onChanged handles whole-document changes. Field forwarding is the field
// observer's job; here the new document only rebinds child queries, whose
// result sets may change entirely under the new arguments.
func (n *Node) onChanged(newDoc types.Document) {
	n.republishChildrenOf(newDoc)
}

func (n *Node) onFieldsChanged(id string, fields types.Fields) {
	if _, published := n.children[id]; !published {
		return
	}
	n.ch.Changed(n.collection, id, fields)
}

// onRemoved releases the claim only if this node holds one; a republish diff
// may already have released it before a queued removal arrives.
func (n *Node) onRemoved(doc types.Document) {
	if _, published := n.children[doc.ID]; !published {
		return
	}
	n.unpublishChildrenOf(doc.ID)
	n.ch.Removed(n.collection, doc.ID)
}

// publishChildrenOf spawns one child node per declared child query, bound to
// the document. The children entry is registered even when empty; see the
// children field.
func (n *Node) publishChildrenOf(doc types.Document) {
	kids := make([]*Node, 0, len(n.pub.Children))
	for _, cp := range n.pub.Children {
		child := NewNode(n.ch, cp, childArgs(doc, n.args), n.log)
		if err := child.Publish(); err != nil {
			n.log.Error("child publish for %s/%s: %v", n.collection, doc.ID, err)
		}
		kids = append(kids, child)
	}
	n.children[doc.ID] = kids
}

func (n *Node) republishChildrenOf(doc types.Document) {
	for _, child := range n.children[doc.ID] {
		child.args[0] = doc
		child.republish()
	}
}

func (n *Node) unpublishChildrenOf(id string) {
	for _, child := range n.children[id] {
		child.Unpublish()
	}
	delete(n.children, id)
}

// republish re-resolves the node under its updated arguments and reconciles
// the result sets by id: ids present before but absent after are removed
// through the channel and their descendants torn down; surviving ids are
// left to the cursor's own events. Re-observing replays the new snapshot as
// adds, which the children presence check routes to changes, so surviving
// documents gain no extra refcount claim.
func (n *Node) republish() {
	before := n.publishedIDs()
	n.stopObservers()

	if err := n.Publish(); err != nil {
		n.log.Error("republish for %s: %v", n.collection, err)
	}

	after := cursorIDs(n.cursor)
	for _, id := range missingFrom(before, after) {
		n.unpublishChildrenOf(id)
		n.ch.Removed(n.collection, id)
	}
}

func (n *Node) removeAllDocuments() {
	for _, id := range n.publishedIDs() {
		n.ch.Removed(n.collection, id)
	}
}

// publishedIDs is the exact set of ids this node currently claims: the keys
// of the children map. The cursor snapshot can disagree with it when events
// are still queued, so the claim set is authoritative for removals.
func (n *Node) publishedIDs() []string {
	ids := make([]string, 0, len(n.children))
	for id := range n.children {
		ids = append(ids, id)
	}
	return ids
}

func (n *Node) unpublishAllChildren() {
	for id, kids := range n.children {
		for _, child := range kids {
			child.Unpublish()
		}
		delete(n.children, id)
	}
}

func (n *Node) stopObservers() {
	for _, obs := range n.observers {
		obs.Stop()
	}
	n.observers = nil
}

func childArgs(doc types.Document, parentArgs []interface{}) []interface{} {
	args := make([]interface{}, 0, len(parentArgs)+1)
	args = append(args, doc)
	return append(args, parentArgs...)
}

func cursorIDs(cur livequery.Cursor) []string {
	if cur == nil {
		return nil
	}
	docs := cur.Fetch()
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids
}

// missingFrom returns the ids in before that do not appear in after,
// preserving before's order.
func missingFrom(before, after []string) []string {
	present := make(map[string]struct{}, len(after))
	for _, id := range after {
		present[id] = struct{}{}
	}
	var missing []string
	for _, id := range before {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
