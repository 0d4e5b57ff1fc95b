package tracking

import (
	"encoding/json"
	"strings"
)

const scriptTemplate = `<script>
(function() {
    var API_BASE = __API_BASE__;
    var params = new URLSearchParams(window.location.search);
    var TRACKING_LINK_ID = params.get('tid') || 'unknown';
    var interactions = [];

    function post(path, body) {
        return fetch(API_BASE + path, {
            method: 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: JSON.stringify(body)
        }).catch(function(err) { console.error('tracking error:', err); });
    }

    function trackInteraction(el, type, value) {
        var tag = el.getAttribute('data-tag') || el.getAttribute('data-cue');
        if (!tag) return;
        interactions.push({ tag: tag, type: type, value: value, timestamp: new Date().toISOString() });
        post('/track/interaction', {
            tracking_link_id: TRACKING_LINK_ID,
            tag_name: tag,
            interaction_type: type,
            interaction_value: value
        });
    }

    document.addEventListener('DOMContentLoaded', function() {
        document.querySelectorAll('[data-tag], [data-cue]').forEach(function(el) {
            el.addEventListener('click', function() { trackInteraction(el, 'click', null); });
            if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA' || el.tagName === 'SELECT') {
                el.addEventListener('change', function() { trackInteraction(el, 'input', el.value); });
            }
        });
    });

    window.RecordTest = function(score) {
        post('/track/score', {
            tracking_link_id: TRACKING_LINK_ID,
            score: Number(score),
            interactions: interactions
        });
        return true;
    };

    post('/track/view', { tracking_link_id: TRACKING_LINK_ID });
})();
</script>`

// Script returns the client snippet injected into served documents. It reads
// the tracking link id from the page's tid query parameter and reports to the
// tracking API under apiBase.
func Script(apiBase string) string {
	quoted, _ := json.Marshal(strings.TrimRight(apiBase, "/"))
	return strings.Replace(scriptTemplate, "__API_BASE__", string(quoted), 1)
}
