package page

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/surge-downloader/odoo-images/internal/engine/events"
)

const (
	// BindingName is the CDP binding the page calls to reach the Go side
	BindingName = "__odooImagesSignal"

	// ButtonClass marks injected trigger controls
	ButtonClass = "image-download-button"

	// ButtonLabel is the menu entry text
	ButtonLabel = "Download images"

	// Payloads sent through the binding
	SignalMutation = "mutation"
	SignalTrigger  = "trigger"

	// DefaultDebounce coalesces bursts of DOM mutations in the page
	DefaultDebounce = 150 * time.Millisecond
)

// In-page helper installed on every document. The placeholders are replaced
// by bootstrapScript.
const bootstrapTemplate = `(function () {
  if (window.__odooImages) { return; }

  var signal = function (kind) {
    if (typeof window[__BINDING__] === 'function') { window[__BINDING__](kind); }
  };

  var api = {
    ensure: function () {
      var added = 0;
      document.querySelectorAll('.o_cp_action_menus .dropdown-menu').forEach(function (menu) {
        if (menu.closest('.o_control_panel_breadcrumbs_actions')) { return; }
        if (menu.querySelector('.' + __CLASS__)) { return; }

        var button = document.createElement('span');
        button.className = 'dropdown-item o_menu_item ' + __CLASS__;
        button.setAttribute('role', 'menuitem');
        button.setAttribute('tabindex', '0');
        button.innerHTML = '<i class="fa fa-download me-1 fa-fw oi-fw"></i>';
        button.appendChild(document.createTextNode(__LABEL__));
        button.addEventListener('mouseenter', function () {
          document.querySelectorAll('.o_menu_item.focus').forEach(function (el) { el.classList.remove('focus'); });
          button.classList.add('focus');
        });
        button.addEventListener('mouseleave', function () { button.classList.remove('focus'); });
        button.addEventListener('click', function () { signal('trigger'); });

        menu.prepend(button);
        added++;
      });
      return added;
    },

    progress: function (percent, text) {
      var box = document.getElementById('download-progress-container');
      if (!box) {
        box = document.createElement('div');
        box.id = 'download-progress-container';
        box.style.cssText = 'position:fixed;bottom:20px;left:50%;transform:translateX(-50%);' +
          'background:rgba(0,0,0,0.8);color:white;padding:10px;border-radius:5px;font-size:14px;' +
          'z-index:9999;width:300px;text-align:center';
        var label = document.createElement('div');
        label.id = 'download-progress-text';
        var bar = document.createElement('div');
        bar.style.cssText = 'width:100%;background:#444;border-radius:3px;margin-top:5px';
        var fill = document.createElement('div');
        fill.id = 'download-progress-fill';
        fill.style.cssText = 'height:8px;width:0%;background:#4CAF50;border-radius:3px';
        bar.appendChild(fill);
        box.appendChild(label);
        box.appendChild(bar);
        document.body.appendChild(box);
      }
      document.getElementById('download-progress-text').textContent = text;
      document.getElementById('download-progress-fill').style.width = percent + '%';
    },

    remove: function () {
      var box = document.getElementById('download-progress-container');
      if (box) { box.remove(); }
    },

    notify: function (text) {
      setTimeout(function () { alert(text); }, 0);
    }
  };
  window.__odooImages = api;

  var pending = null;
  var observe = function () {
    new MutationObserver(function () {
      if (pending) { return; }
      pending = setTimeout(function () { pending = null; signal('mutation'); }, __DEBOUNCE__);
    }).observe(document.body, { childList: true, subtree: true });
    signal('mutation');
  };
  if (document.body) { observe(); } else { document.addEventListener('DOMContentLoaded', observe); }
})();`

// bootstrapScript renders the in-page helper.
func bootstrapScript(debounce time.Duration) string {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return strings.NewReplacer(
		"__BINDING__", jsString(BindingName),
		"__CLASS__", jsString(ButtonClass),
		"__LABEL__", jsString(ButtonLabel),
		"__DEBOUNCE__", strconv.FormatInt(debounce.Milliseconds(), 10),
	).Replace(bootstrapTemplate)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// progressText is shown above the fill bar
func progressText(percent float64) string {
	return fmt.Sprintf("Processing... (%d%%)", int(percent+0.5))
}

// progressCall renders the overlay update for a percentage.
func progressCall(percent float64) string {
	percent = min(max(percent, 0), 100)
	return fmt.Sprintf("window.__odooImages && window.__odooImages.progress(%d, %s)",
		int(percent+0.5), jsString(progressText(percent)))
}

// scriptFor maps a job event to the expression that renders it in the page.
// Events without a visible effect map to "".
func scriptFor(msg any) string {
	switch m := msg.(type) {
	case events.JobStartedMsg:
		return progressCall(0)
	case events.ProgressMsg:
		return progressCall(m.Percent)
	case events.NoticeMsg:
		return "window.__odooImages && window.__odooImages.notify(" + jsString(m.Text) + ")"
	case events.JobResetMsg:
		return "window.__odooImages && window.__odooImages.remove()"
	default:
		return ""
	}
}

// jobOf returns the job a rendered event belongs to.
func jobOf(msg any) string {
	switch m := msg.(type) {
	case events.JobStartedMsg:
		return m.JobID
	case events.ProgressMsg:
		return m.JobID
	case events.NoticeMsg:
		return m.JobID
	case events.JobResetMsg:
		return m.JobID
	default:
		return ""
	}
}

func noticeText(text string) events.NoticeMsg {
	return events.NoticeMsg{Kind: events.NoticeWarning, Text: text}
}
