// Package atoms holds the page scripts the browser backends run against
// elements. Every atom is a `function` declaration invoked with the element
// (or document) bound to `this`. Failures are thrown as Error objects whose
// message starts with one of the markers below so backends can map them back
// to driver errors with Classify.
package atoms

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// Failure markers thrown by the atoms.
const (
	MarkStale          = "rpa:stale"
	MarkReadOnly       = "rpa:readonly"
	MarkDisabled       = "rpa:disabled"
	MarkNotSelect      = "rpa:not-select"
	MarkNotInteractive = "rpa:not-interactable"
	MarkIntercepted    = "rpa:intercepted"
	MarkNoOption       = "rpa:no-option"
	MarkNoFrame        = "rpa:no-frame"
)

var markers = []struct {
	mark     string
	sentinel error
}{
	{MarkStale, driver.ErrStaleElement},
	{MarkReadOnly, driver.ErrReadOnly},
	{MarkDisabled, driver.ErrInvalidElementState},
	{MarkNotSelect, driver.ErrInvalidElementState},
	{MarkNotInteractive, driver.ErrNotInteractable},
	{MarkIntercepted, driver.ErrClickIntercepted},
	{MarkNoOption, driver.ErrNoSuchOption},
	{MarkNoFrame, driver.ErrNoSuchFrame},
}

// Classify wraps err with the driver sentinel named by a marker in its message.
// It returns err unchanged when no marker is present.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, m := range markers {
		if strings.Contains(msg, m.mark) {
			return fmt.Errorf("%w: %v", m.sentinel, err)
		}
	}
	return err
}

// guard prefixes body with the staleness check every element atom performs.
func guard(params, body string) string {
	return "function(" + params + ") {\n" +
		"if (!this.isConnected) { throw new Error('" + MarkStale + "'); }\n" +
		body + "\n}"
}

// displayedFn approximates the WebDriver displayedness check. Options take
// the visibility of their select.
const displayedFn = `const displayed = (el) => {
  if (el.tagName === 'OPTION' || el.tagName === 'OPTGROUP') {
    const sel = el.closest('select');
    return sel ? displayed(sel) : false;
  }
  if (el.tagName === 'INPUT' && (el.type || '').toLowerCase() === 'hidden') { return false; }
  const view = el.ownerDocument.defaultView;
  const st = view ? view.getComputedStyle(el) : null;
  if (st && (st.visibility === 'hidden' || st.visibility === 'collapse')) { return false; }
  if (el.getClientRects().length === 0 && !(st && st.display === 'contents')) { return false; }
  return true;
};`

// FindXPath returns the element nodes matching the xpath argument, evaluated
// with this as the context node.
var FindXPath = `function(xpath) {
const doc = this.nodeType === 9 ? this : this.ownerDocument;
if (this.nodeType !== 9 && !this.isConnected) { throw new Error('` + MarkStale + `'); }
const snap = doc.evaluate(xpath, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
const out = [];
for (let i = 0; i < snap.snapshotLength; i++) {
  const n = snap.snapshotItem(i);
  if (n.nodeType === 1) { out.push(n); }
}
return out;
}`

// Displayed reports whether the element is rendered.
var Displayed = guard("", displayedFn+"\nreturn displayed(this);")

// Enabled reports whether the element accepts interaction.
var Enabled = guard("", `return !(this.disabled === true || this.closest('fieldset[disabled]') !== null);`)

// Selected reports option selection or checkbox/radio checked state.
var Selected = guard("", `return !!(this.selected || this.checked);`)

// ScrollIntoView centers the element in its viewport.
var ScrollIntoView = guard("", `this.scrollIntoView({block: 'center', inline: 'center'});`)

// ClickPoint scrolls the element into view and returns the viewport
// coordinates of its center, offset through any enclosing frames. It throws
// the intercepted marker when another element would receive the click.
var ClickPoint = guard("", displayedFn+`
if (!displayed(this)) { throw new Error('`+MarkNotInteractive+`: element is not displayed'); }
this.scrollIntoView({block: 'center', inline: 'center'});
const r = this.getBoundingClientRect();
if (r.width === 0 && r.height === 0) { throw new Error('`+MarkNotInteractive+`: element has no size'); }
const x = r.left + r.width / 2, y = r.top + r.height / 2;
const hit = this.ownerDocument.elementFromPoint(x, y);
if (hit && hit !== this && !this.contains(hit)) {
  const desc = hit.tagName.toLowerCase() + (hit.id ? '#' + hit.id : '');
  throw new Error('`+MarkIntercepted+`: click would land on ' + desc);
}
let ox = 0, oy = 0, w = this.ownerDocument.defaultView;
while (w && w.frameElement) {
  const fr = w.frameElement.getBoundingClientRect();
  ox += fr.left + w.frameElement.clientLeft;
  oy += fr.top + w.frameElement.clientTop;
  w = w.parent;
}
return {x: x + ox, y: y + oy};`)

// JSClick dispatches a click event without hit testing.
var JSClick = guard("", `this.click();`)

// Focus prepares the element for keyboard input.
var Focus = guard("", displayedFn+`
if (!displayed(this)) { throw new Error('`+MarkNotInteractive+`: element is not displayed'); }
if (this.disabled === true) { throw new Error('`+MarkDisabled+`: element is disabled'); }
if (this.readOnly === true || this.hasAttribute('readonly')) { throw new Error('`+MarkReadOnly+`: element is read-only'); }
this.focus();
if ('selectionStart' in this && typeof this.value === 'string') {
  try { this.selectionStart = this.selectionEnd = this.value.length; } catch (e) {}
}`)

// Clear empties an editable field and fires the usual events.
var Clear = guard("", `if (this.disabled === true) { throw new Error('`+MarkDisabled+`: element is disabled'); }
if (this.readOnly === true || this.hasAttribute('readonly')) { throw new Error('`+MarkReadOnly+`: element is read-only'); }
if (this.isContentEditable) { this.textContent = ''; } else { this.value = ''; }
this.dispatchEvent(new Event('input', {bubbles: true}));
this.dispatchEvent(new Event('change', {bubbles: true}));`)

// Value returns the live value property wrapped as {v: string}.
var Value = guard("", `const v = this.value;
return {v: v === undefined || v === null ? '' : String(v)};`)

// Attribute returns {v, ok} for the named attribute.
var Attribute = guard("name", `return {v: this.getAttribute(name) || '', ok: this.hasAttribute(name)};`)

// RemoveAttribute drops the named attribute.
var RemoveAttribute = guard("name", `this.removeAttribute(name);`)

// Text returns the rendered text of a displayed element, whitespace collapsed.
var Text = guard("", displayedFn+`
if (!displayed(this)) { return {v: ''}; }
const t = this.tagName === 'OPTION' ? this.text : (this.innerText ?? this.textContent ?? '');
return {v: t.replace(/\s+/g, ' ').trim()};`)

// SelectByText selects the option whose collapsed text equals the argument.
var SelectByText = guard("text", `if (this.tagName !== 'SELECT') { throw new Error('`+MarkNotSelect+`: element is not a select'); }
if (this.disabled === true) { throw new Error('`+MarkDisabled+`: select is disabled'); }
for (const o of this.options) {
  if (o.text.replace(/\s+/g, ' ').trim() === text) {
    if (o.disabled) { throw new Error('`+MarkDisabled+`: option is disabled'); }
    o.selected = true;
    this.dispatchEvent(new Event('input', {bubbles: true}));
    this.dispatchEvent(new Event('change', {bubbles: true}));
    return true;
  }
}
throw new Error('`+MarkNoOption+`: ' + JSON.stringify(text));`)

// ContentDocument returns the document of a same-origin frame element.
var ContentDocument = guard("", `if (this.tagName !== 'IFRAME' && this.tagName !== 'FRAME') { throw new Error('`+MarkNoFrame+`: element is not a frame'); }
const d = this.contentDocument;
if (!d) { throw new Error('`+MarkNoFrame+`: frame document is not accessible'); }
return d;`)

// OuterHTML serializes the document bound to this.
const OuterHTML = `function() { return this.documentElement ? this.documentElement.outerHTML : ''; }`

// ReadyState reads document.readyState of the document bound to this.
const ReadyState = `function() { return this.readyState; }`

// ScriptBody wraps a user script body so it runs as a function with the
// caller's arguments, returning its result.
func ScriptBody(script string) string {
	return "function() {\n" + script + "\n}"
}
