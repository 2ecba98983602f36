package cdpdriver

import (
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// step is one link of a locator chain as the in-page engine understands it.
type step struct {
	Op      string   `json:"op"`
	Role    string   `json:"role,omitempty"`
	Match   *matcher `json:"match,omitempty"`
	Query   string   `json:"query,omitempty"`
	HasText *matcher `json:"hasText,omitempty"`
	HasNot  *matcher `json:"hasNot,omitempty"`
	N       int      `json:"n"`
}

// matcher carries text matching rules into the page. Regex literals keep
// their JavaScript source and flags.
type matcher struct {
	Text   string `json:"text,omitempty"`
	Exact  bool   `json:"exact,omitempty"`
	Source string `json:"source,omitempty"`
	Flags  string `json:"flags,omitempty"`
}

func newMatcher(text string, exact bool) (*matcher, error) {
	if pattern, flags, ok := browser.SplitRegexLiteral(text); ok {
		// Compile once in Go so a broken pattern fails before reaching the page.
		if _, err := browser.NewTextMatcher(text, exact); err != nil {
			return nil, err
		}
		return &matcher{Source: pattern, Flags: flags}, nil
	}
	return &matcher{Text: text, Exact: exact}, nil
}

func stepFor(sel browser.Selector) (step, error) {
	switch sel.Kind {
	case browser.ByRole:
		s := step{Op: "role", Role: sel.Value}
		if sel.Name != "" {
			m, err := newMatcher(sel.Name, sel.Exact)
			if err != nil {
				return step{}, err
			}
			s.Match = m
		}
		return s, nil
	case browser.ByLabel, browser.ByText, browser.ByTitle:
		m, err := newMatcher(sel.Value, sel.Exact)
		if err != nil {
			return step{}, err
		}
		return step{Op: string(sel.Kind), Match: m}, nil
	case browser.ByCSS:
		if sel.IsXPath() {
			return step{Op: "xpath", Query: sel.Value}, nil
		}
		return step{Op: "css", Query: sel.Value}, nil
	}
	return step{}, fmt.Errorf("unsupported selector kind %q", sel.Kind)
}

// engineCall renders a self-contained expression that resolves steps and
// applies op to the result.
func engineCall(steps []step, op string, arg string) (string, error) {
	s, err := json.Marshal(steps)
	if err != nil {
		return "", err
	}
	a, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s)(%s, %q, %s)", engineSource, s, op, a), nil
}

// engineResult is what every engine operation returns.
type engineResult struct {
	Count   int     `json:"count"`
	Visible bool    `json:"visible"`
	Value   string  `json:"value"`
	Present bool    `json:"present"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Error   string  `json:"error"`
}

const engineSource = `function(steps, op, arg) {
  const norm = s => (s || '').replace(/\s+/g, ' ').trim();
  const test = (m, s) => {
    if (!m) return true;
    if (m.source !== undefined && m.source !== '') return new RegExp(m.source, m.flags || '').test(s);
    const a = norm(s), b = norm(m.text);
    return m.exact ? a === b : a.toLowerCase().includes(b.toLowerCase());
  };
  const implicitRole = el => {
    const tag = el.tagName.toLowerCase();
    const type = (el.getAttribute('type') || 'text').toLowerCase();
    switch (tag) {
      case 'a': return el.hasAttribute('href') ? 'link' : '';
      case 'button': return 'button';
      case 'input':
        if (['button', 'submit', 'reset', 'image'].includes(type)) return 'button';
        if (type === 'checkbox') return 'checkbox';
        if (type === 'radio') return 'radio';
        if (el.hasAttribute('list')) return 'combobox';
        if (['text', 'email', 'tel', 'url', 'search', 'password', 'number'].includes(type)) return 'textbox';
        return '';
      case 'textarea': return 'textbox';
      case 'select': return el.multiple || el.size > 1 ? 'listbox' : 'combobox';
      case 'option': return 'option';
      case 'tr': return 'row';
      case 'td': return 'cell';
      case 'th': return 'columnheader';
      case 'table': return 'table';
      case 'ul': case 'ol': return 'list';
      case 'li': return 'listitem';
      case 'img': return 'img';
      case 'dialog': return 'dialog';
      case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
    }
    return '';
  };
  const roleOf = el => (el.getAttribute('role') || '').split(' ')[0] || implicitRole(el);
  const byIds = ids => ids.split(/\s+/).map(id => document.getElementById(id)).filter(Boolean).map(e => e.textContent).join(' ');
  const labelText = el => {
    const parts = [];
    if (el.labels) for (const l of el.labels) parts.push(l.textContent);
    return norm(parts.join(' '));
  };
  const accessibleName = el => {
    const by = el.getAttribute('aria-labelledby');
    if (by) return norm(byIds(by));
    const aria = el.getAttribute('aria-label');
    if (aria) return norm(aria);
    const label = labelText(el);
    if (label) return label;
    const tag = el.tagName.toLowerCase();
    if (tag === 'input' && ['button', 'submit', 'reset'].includes((el.type || '').toLowerCase())) return norm(el.value);
    if (tag === 'img') return norm(el.getAttribute('alt'));
    if (!['input', 'textarea', 'select'].includes(tag)) {
      const text = norm(el.textContent);
      if (text) return text;
    }
    return norm(el.getAttribute('title') || el.getAttribute('placeholder'));
  };
  const ownText = el => {
    let s = '';
    for (const n of el.childNodes) if (n.nodeType === Node.TEXT_NODE) s += n.textContent;
    return s;
  };
  const descendants = scope => Array.from(scope.querySelectorAll('*'));
  const find = (scope, st) => {
    switch (st.op) {
      case 'css': return Array.from(scope.querySelectorAll(st.query));
      case 'xpath': {
        const out = [];
        const r = document.evaluate(st.query, scope, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
        for (let i = 0; i < r.snapshotLength; i++) {
          const n = r.snapshotItem(i);
          if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
        }
        return out;
      }
      case 'role':
        return descendants(scope).filter(el => roleOf(el) === st.role && (!st.match || test(st.match, accessibleName(el))));
      case 'label':
        return descendants(scope).filter(el => {
          const aria = el.getAttribute('aria-label');
          if (aria && test(st.match, aria)) return true;
          const by = el.getAttribute('aria-labelledby');
          if (by && test(st.match, byIds(by))) return true;
          return !!el.labels && el.labels.length > 0 && test(st.match, labelText(el));
        });
      case 'title':
        return descendants(scope).filter(el => el.hasAttribute('title') && test(st.match, el.getAttribute('title')));
      case 'text': {
        const hits = descendants(scope).filter(el =>
          !['SCRIPT', 'STYLE', 'HEAD'].includes(el.tagName) && test(st.match, el.textContent));
        const set = new Set(hits);
        return hits.filter(el => {
          if (ownText(el).trim() && test(st.match, ownText(el))) return true;
          for (const c of el.children) if (set.has(c)) return false;
          return true;
        });
      }
    }
    throw new Error('unknown step ' + st.op);
  };
  let cur = [document];
  for (const st of steps) {
    if (st.op === 'filter') {
      cur = cur.filter(el => (!st.hasText || test(st.hasText, el.textContent)) && (!st.hasNot || !test(st.hasNot, el.textContent)));
      continue;
    }
    if (st.op === 'nth') {
      const i = st.n < 0 ? cur.length + st.n : st.n;
      cur = i >= 0 && i < cur.length ? [cur[i]] : [];
      continue;
    }
    const seen = new Set(), next = [];
    for (const scope of cur) for (const el of find(scope, st)) if (!seen.has(el)) { seen.add(el); next.push(el); }
    next.sort((a, b) => a === b ? 0 : (a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING ? -1 : 1));
    cur = next;
  }
  const visible = el => {
    if (!el || !el.isConnected) return false;
    const r = el.getBoundingClientRect();
    const st = getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
  };
  const res = { count: cur.length, visible: false, value: '', present: false, x: 0, y: 0, error: '' };
  const el = cur[0];
  if (op === 'count') return res;
  res.visible = visible(el);
  if (op === 'visible') return res;
  if (!el) { res.error = 'not found'; return res; }
  switch (op) {
    case 'point': {
      el.scrollIntoView({ block: 'center', inline: 'center' });
      const r = el.getBoundingClientRect();
      res.x = r.left + r.width / 2;
      res.y = r.top + r.height / 2;
      break;
    }
    case 'highlight':
      el.style.outline = '3px solid #e53935';
      el.style.outlineOffset = '2px';
      break;
    case 'focus':
      el.focus();
      break;
    case 'clear':
      if (el.disabled || el.readOnly) { res.error = 'element is not editable'; break; }
      el.focus();
      if ('value' in el) {
        el.value = '';
        el.dispatchEvent(new Event('input', { bubbles: true }));
      } else if (el.isContentEditable) {
        el.textContent = '';
      }
      break;
    case 'select': {
      if (el.tagName !== 'SELECT') { res.error = 'element is not a <select>'; break; }
      const opt = Array.from(el.options).find(o => o.value === arg || norm(o.label) === norm(arg));
      if (!opt) { res.error = 'no option ' + JSON.stringify(arg); break; }
      el.value = opt.value;
      el.dispatchEvent(new Event('input', { bubbles: true }));
      el.dispatchEvent(new Event('change', { bubbles: true }));
      break;
    }
    case 'text':
      res.value = el.textContent || '';
      break;
    case 'inputValue':
      if (!('value' in el)) { res.error = 'element is not an input, textarea or select'; break; }
      res.value = el.value;
      break;
    case 'attribute': {
      const v = el.getAttribute(arg);
      res.present = v !== null;
      res.value = v || '';
      break;
    }
    default:
      res.error = 'unknown op ' + op;
  }
  return res;
}`
