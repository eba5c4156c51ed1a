package realm

import (
	"html"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// DefaultStylesheets is the head whitelist restored on every realm.
var DefaultStylesheets = []string{
	"https://unpkg.com/@adobe/spectrum-css@2.x/dist/spectrum-core.css",
	"https://unpkg.com/@adobe/spectrum-css@2.x/dist/spectrum-lightest.css",
}

// RootClass and RootID describe the single element the body is reset to.
const (
	RootClass = "spectrum spectrum--lightest spectrum--medium"
	RootID    = "root"
)

const textNode = "#text"

// Element is a node of the realm's document model. Text nodes have the tag
// "#text". An Element is only touched on its realm's event loop.
type Element struct {
	Tag      string
	Text     string
	attrs    map[string]string
	children []*Element
	parent   *Element

	listeners map[string][]goja.Value
	obj       *goja.Object
	doc       *Document
}

// Attr returns the attribute value and whether it is set.
func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// SetAttr sets an attribute.
func (e *Element) SetAttr(name, value string) {
	if e.attrs == nil {
		e.attrs = make(map[string]string)
	}
	e.attrs[name] = value
}

// Children returns the child nodes.
func (e *Element) Children() []*Element { return append([]*Element(nil), e.children...) }

// Append adds child as the last child, detaching it from its previous parent.
func (e *Element) Append(child *Element) {
	child.detach()
	child.parent = e
	e.children = append(e.children, child)
}

// InsertBefore inserts child before ref; a nil or foreign ref appends.
func (e *Element) InsertBefore(child, ref *Element) {
	child.detach()
	child.parent = e
	for i, c := range e.children {
		if c == ref {
			e.children = append(e.children[:i], append([]*Element{child}, e.children[i:]...)...)
			return
		}
	}
	e.children = append(e.children, child)
}

// Remove detaches e from its parent.
func (e *Element) Remove() { e.detach() }

// Clear removes every child.
func (e *Element) Clear() {
	for _, c := range e.children {
		c.parent = nil
	}
	e.children = nil
}

func (e *Element) detach() {
	if e.parent == nil {
		return
	}
	p := e.parent
	for i, c := range p.children {
		if c == e {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	e.parent = nil
}

// TextContent concatenates the text of every descendant text node.
func (e *Element) TextContent() string {
	if e.Tag == textNode {
		return e.Text
	}
	var b strings.Builder
	for _, c := range e.children {
		b.WriteString(c.TextContent())
	}
	return b.String()
}

// OuterHTML serialises e with attributes in sorted order.
func (e *Element) OuterHTML() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

// InnerHTML serialises the children of e.
func (e *Element) InnerHTML() string {
	var b strings.Builder
	for _, c := range e.children {
		c.write(&b)
	}
	return b.String()
}

var voidTags = map[string]bool{"link": true, "meta": true, "br": true, "img": true, "input": true, "hr": true}

func (e *Element) write(b *strings.Builder) {
	if e.Tag == textNode {
		b.WriteString(html.EscapeString(e.Text))
		return
	}
	b.WriteByte('<')
	b.WriteString(e.Tag)
	keys := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(e.attrs[k]))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	if voidTags[e.Tag] {
		return
	}
	for _, c := range e.children {
		c.write(b)
	}
	b.WriteString("</")
	b.WriteString(e.Tag)
	b.WriteByte('>')
}

func (e *Element) find(match func(*Element) bool) *Element {
	if match(e) {
		return e
	}
	for _, c := range e.children {
		if f := c.find(match); f != nil {
			return f
		}
	}
	return nil
}

// Document is the realm's minimal DOM: a head, a body and a root element.
type Document struct {
	vm     *goja.Runtime
	html   *Element
	head   *Element
	body   *Element
	obj    *goja.Object
	global *Element // event target standing in for window
}

func newDocument(vm *goja.Runtime) *Document {
	d := &Document{vm: vm}
	d.html = d.CreateElement("html")
	d.head = d.CreateElement("head")
	d.body = d.CreateElement("body")
	d.html.Append(d.head)
	d.html.Append(d.body)
	d.global = &Element{Tag: "#window", doc: d}
	return d
}

// Head returns the head element.
func (d *Document) Head() *Element { return d.head }

// Body returns the body element.
func (d *Document) Body() *Element { return d.body }

// Root returns the element with id "root", or nil.
func (d *Document) Root() *Element { return d.ElementByID(RootID) }

// ElementByID finds an element by its id attribute.
func (d *Document) ElementByID(id string) *Element {
	return d.html.find(func(e *Element) bool {
		v, ok := e.attrs["id"]
		return ok && v == id
	})
}

// CreateElement creates a detached element.
func (d *Document) CreateElement(tag string) *Element {
	return &Element{Tag: strings.ToLower(tag), doc: d}
}

// CreateText creates a detached text node.
func (d *Document) CreateText(text string) *Element {
	return &Element{Tag: textNode, Text: text, doc: d}
}

// ResetHead keeps the first link to each whitelisted stylesheet, removes
// every other head node and appends links for missing stylesheets in
// whitelist order.
func (d *Document) ResetHead(whitelist []string) {
	missing := append([]string(nil), whitelist...)
	for _, n := range d.head.Children() {
		if n.Tag == "link" {
			href, _ := n.Attr("href")
			rel, _ := n.Attr("rel")
			if i := indexOf(missing, href); rel == "stylesheet" && i >= 0 {
				missing = append(missing[:i], missing[i+1:]...)
				continue
			}
		}
		n.Remove()
	}
	for _, url := range missing {
		link := d.CreateElement("link")
		link.SetAttr("rel", "stylesheet")
		link.SetAttr("href", url)
		d.head.Append(link)
	}
}

// ResetBody replaces the body content with the single root element.
func (d *Document) ResetBody() {
	d.body.Clear()
	root := d.CreateElement("div")
	root.SetAttr("class", RootClass)
	root.SetAttr("id", RootID)
	d.body.Append(root)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// ── JavaScript bindings ──────────────────────────────────────────────────────

// object returns the JS object of e, creating it on first use.
func (e *Element) object() *goja.Object {
	if e.obj != nil {
		return e.obj
	}
	vm := e.doc.vm
	o := vm.NewObject()
	e.obj = o
	_ = o.Set("__node__", e)

	accessor := func(name string, get func() goja.Value, set func(goja.Value)) {
		var setter goja.Value
		if set != nil {
			setter = vm.ToValue(func(call goja.FunctionCall) goja.Value {
				set(call.Argument(0))
				return goja.Undefined()
			})
		}
		_ = o.DefineAccessorProperty(name, vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }),
			setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	str := func(s string) goja.Value { return vm.ToValue(s) }

	accessor("nodeName", func() goja.Value { return str(strings.ToUpper(e.Tag)) }, nil)
	accessor("tagName", func() goja.Value { return str(strings.ToUpper(e.Tag)) }, nil)
	attr := func(name string) func() goja.Value {
		return func() goja.Value {
			v, _ := e.Attr(name)
			return str(v)
		}
	}
	accessor("id", attr("id"), func(v goja.Value) { e.SetAttr("id", v.String()) })
	accessor("className", attr("class"), func(v goja.Value) { e.SetAttr("class", v.String()) })
	accessor("textContent", func() goja.Value { return str(e.TextContent()) },
		func(v goja.Value) {
			if e.Tag == textNode {
				e.Text = v.String()
				return
			}
			e.Clear()
			if s := v.String(); s != "" {
				e.Append(e.doc.CreateText(s))
			}
		})
	accessor("innerHTML", func() goja.Value { return str(e.InnerHTML()) },
		func(v goja.Value) {
			// Markup is not parsed; content becomes a single text node.
			e.Clear()
			if s := v.String(); s != "" {
				e.Append(e.doc.CreateText(s))
			}
		})
	accessor("outerHTML", func() goja.Value { return str(e.OuterHTML()) }, nil)
	accessor("parentNode", func() goja.Value {
		if e.parent == nil {
			return goja.Null()
		}
		return e.parent.object()
	}, nil)
	accessor("childNodes", func() goja.Value { return e.childArray() }, nil)
	accessor("children", func() goja.Value { return e.childArray() }, nil)
	accessor("firstChild", func() goja.Value {
		if len(e.children) == 0 {
			return goja.Null()
		}
		return e.children[0].object()
	}, nil)

	_ = o.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := nodeOf(call.Argument(0))
		if child == nil {
			panic(vm.NewTypeError("appendChild: argument is not a node"))
		}
		e.Append(child)
		return call.Argument(0)
	})
	_ = o.Set("insertBefore", func(call goja.FunctionCall) goja.Value {
		child := nodeOf(call.Argument(0))
		if child == nil {
			panic(vm.NewTypeError("insertBefore: argument is not a node"))
		}
		e.InsertBefore(child, nodeOf(call.Argument(1)))
		return call.Argument(0)
	})
	_ = o.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		if child := nodeOf(call.Argument(0)); child != nil && child.parent == e {
			child.Remove()
		}
		return call.Argument(0)
	})
	_ = o.Set("remove", func(goja.FunctionCall) goja.Value {
		e.Remove()
		return goja.Undefined()
	})
	_ = o.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		e.SetAttr(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = o.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := e.Attr(call.Argument(0).String()); ok {
			return str(v)
		}
		return goja.Null()
	})
	_ = o.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		delete(e.attrs, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = o.Set("style", vm.NewObject())
	e.bindEvents(o)
	return o
}

func (e *Element) childArray() goja.Value {
	items := make([]any, len(e.children))
	for i, c := range e.children {
		items[i] = c.object()
	}
	return e.doc.vm.NewArray(items...)
}

// bindEvents installs addEventListener, removeEventListener and
// dispatchEvent on o, storing listeners on e.
func (e *Element) bindEvents(o *goja.Object) {
	vm := e.doc.vm
	_ = o.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		if e.listeners == nil {
			e.listeners = make(map[string][]goja.Value)
		}
		for _, l := range e.listeners[typ] {
			if l.SameAs(fn) {
				return goja.Undefined()
			}
		}
		e.listeners[typ] = append(e.listeners[typ], fn)
		return goja.Undefined()
	})
	_ = o.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		ls := e.listeners[typ]
		for i, l := range ls {
			if l.SameAs(fn) {
				e.listeners[typ] = append(ls[:i], ls[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
	_ = o.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		ev := call.Argument(0)
		evObj := ev.ToObject(vm)
		typ := evObj.Get("type").String()
		_ = evObj.Set("target", o)
		for _, l := range append([]goja.Value(nil), e.listeners[typ]...) {
			if fn, ok := goja.AssertFunction(l); ok {
				if _, err := fn(o, ev); err != nil {
					panic(err)
				}
			}
		}
		return vm.ToValue(true)
	})
}

// ListenerCount returns how many listeners of typ are registered on e.
func (e *Element) ListenerCount(typ string) int { return len(e.listeners[typ]) }

func nodeOf(v goja.Value) *Element {
	o, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	n, _ := o.Get("__node__").Export().(*Element)
	return n
}

// object returns the JS document object, creating it on first use.
func (d *Document) object() *goja.Object {
	if d.obj != nil {
		return d.obj
	}
	vm := d.vm
	o := vm.NewObject()
	d.obj = o
	_ = o.Set("head", d.head.object())
	_ = o.Set("body", d.body.object())
	_ = o.Set("documentElement", d.html.object())
	_ = o.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return d.CreateElement(call.Argument(0).String()).object()
	})
	_ = o.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.CreateText(call.Argument(0).String()).object()
	})
	_ = o.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		if e := d.ElementByID(call.Argument(0).String()); e != nil {
			return e.object()
		}
		return goja.Null()
	})
	_ = o.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		sel := call.Argument(0).String()
		var e *Element
		if id, ok := strings.CutPrefix(sel, "#"); ok {
			e = d.ElementByID(id)
		} else {
			tag := strings.ToLower(sel)
			e = d.html.find(func(x *Element) bool { return x.Tag == tag })
		}
		if e == nil {
			return goja.Null()
		}
		return e.object()
	})
	docNode := &Element{Tag: "#document", doc: d, obj: o}
	docNode.bindEvents(o)
	return o
}
