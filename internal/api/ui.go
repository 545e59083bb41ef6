package api

import (
	"net/http"
)

const consoleHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Kamishibai Console</title>
    <style>
        :root {
            --ink: #e9e0d0;
            --faded: #9a8c74;
            --stage: #211a12;
            --panel: #2c231a;
            --frame: #4a3a27;
            --lantern: #c9a24b;
            --vermillion: #b5432f;
            --pine: #4a7c59;
            --night: #3d6b99;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: "Noto Sans Mono", monospace;
            background: var(--stage);
            color: var(--ink);
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        #topbar {
            display: flex;
            align-items: center;
            gap: 14px;
            padding: 11px 18px;
            background: var(--panel);
            border-bottom: 2px solid var(--frame);
        }
        #topbar h1 { font-size: 15px; font-weight: normal; letter-spacing: 1px; }
        #position { flex: 1; text-align: right; font-size: 12px; color: var(--faded); }
        .link { font-size: 11px; padding: 3px 9px; border-radius: 3px; }
        .link.on { background: var(--pine); color: #d9ecd9; }
        .link.off { background: var(--vermillion); color: #f3d4cd; }
        .link.wait { background: var(--lantern); color: #3a2c10; }
        #deck {
            display: flex;
            align-items: center;
            flex-wrap: wrap;
            gap: 9px;
            padding: 9px 18px;
            background: var(--panel);
            border-bottom: 1px solid var(--frame);
        }
        #deck label { font-size: 12px; color: var(--faded); }
        #deck input {
            width: 170px;
            padding: 5px 9px;
            font: inherit;
            font-size: 12px;
            color: var(--ink);
            background: var(--stage);
            border: 1px solid var(--frame);
            border-radius: 3px;
        }
        #deck input:focus { outline: none; border-color: var(--lantern); }
        button {
            padding: 5px 13px;
            font: inherit;
            font-size: 12px;
            color: #f5efe2;
            background: var(--night);
            border: none;
            border-radius: 3px;
            cursor: pointer;
        }
        button:hover { filter: brightness(1.15); }
        button:disabled { background: var(--frame); cursor: wait; }
        button.go { background: var(--pine); }
        button.grave { background: var(--vermillion); }
        .gap { width: 1px; height: 22px; background: var(--frame); }
        #flash { font-size: 12px; padding: 3px 9px; border-radius: 3px; }
        #flash.ok { background: var(--pine); color: #d9ecd9; }
        #flash.bad { background: var(--vermillion); color: #f3d4cd; }
        main { flex: 1; display: flex; min-height: 0; }
        #transcript {
            flex: 1;
            display: flex;
            flex-direction: column;
            border-right: 2px solid var(--frame);
        }
        #bubbles { flex: 1; overflow-y: auto; padding: 12px; }
        .bubble {
            max-width: 82%;
            padding: 8px 12px;
            margin-bottom: 7px;
            font-size: 13px;
            border-radius: 3px;
            background: var(--panel);
        }
        .bubble.user { margin-left: auto; background: #1f2c3a; }
        .bubble.assistant { border-left: 3px solid var(--pine); }
        .bubble.assistant.degraded { border-left-color: var(--vermillion); }
        .bubble .mood { margin-left: 8px; font-size: 11px; color: var(--lantern); }
        .bubble .portrait {
            display: block;
            max-height: 84px;
            margin-bottom: 5px;
            border-radius: 3px;
        }
        #composer {
            display: flex;
            gap: 8px;
            padding: 10px 12px;
            background: var(--panel);
            border-top: 1px solid var(--frame);
        }
        #composer input {
            flex: 1;
            padding: 7px 10px;
            font: inherit;
            font-size: 13px;
            color: var(--ink);
            background: var(--stage);
            border: 1px solid var(--frame);
            border-radius: 3px;
        }
        #composer input:focus { outline: none; border-color: var(--lantern); }
        #feed { width: 430px; overflow-y: auto; padding: 10px; }
        .row {
            display: flex;
            gap: 9px;
            align-items: baseline;
            padding: 5px 9px;
            margin-bottom: 4px;
            font-size: 12px;
            background: var(--panel);
            border-left: 3px solid var(--frame);
            border-radius: 3px;
        }
        .row.lv-error { border-left-color: var(--vermillion); background: #33201a; }
        .row.lv-warning { border-left-color: var(--lantern); }
        .row.sc-session { border-left-color: #8a6bbf; }
        .row.sc-turn { border-left-color: var(--night); }
        .row.sc-page { border-left-color: var(--pine); }
        .row.sc-voice { border-left-color: #3f8f9c; }
        .row.sc-display { border-left-color: #bf7b3f; }
        .row.sc-operator { border-left-color: #bf5f8a; }
        .when { min-width: 68px; font-size: 11px; color: var(--faded); }
        .what { min-width: 128px; font-weight: bold; color: var(--lantern); }
        .who { color: #b9a6d9; }
        .note { color: var(--faded); }
        footer {
            padding: 7px 18px;
            font-size: 11px;
            color: var(--faded);
            background: var(--panel);
            border-top: 1px solid var(--frame);
        }
    </style>
</head>
<body>
    <header id="topbar">
        <h1>紙芝居 — Kamishibai Console</h1>
        <span id="position">–</span>
        <span id="link" class="link off">offline</span>
    </header>
    <section id="deck">
        <label for="scene">Scene</label>
        <input type="text" id="scene" placeholder="scene_id (optional)">
        <button id="startBtn" class="go">Start</button>
        <span class="gap"></span>
        <label for="target">Move</label>
        <input type="text" id="target" placeholder="scene:page or page">
        <button id="moveBtn">Move</button>
        <span class="gap"></span>
        <button id="undoBtn">Undo</button>
        <button id="resetBtn" class="grave">Reset</button>
        <span id="flash"></span>
    </section>
    <main>
        <section id="transcript">
            <div id="bubbles"></div>
            <form id="composer">
                <input type="text" id="say" placeholder="メッセージを入力..." autocomplete="off">
                <button type="submit" id="sayBtn">送信</button>
            </form>
        </section>
        <aside id="feed"></aside>
    </main>
    <footer><span id="tally">0</span> events · /ws/events</footer>

    <script>
        const $ = (id) => document.getElementById(id);
        const bubbles = $('bubbles');
        const feed = $('feed');
        let seen = 0;

        const el = (tag, cls, text) => {
            const node = document.createElement(tag);
            if (cls) node.className = cls;
            if (text !== undefined) node.textContent = text;
            return node;
        };

        const clock = (ts) => {
            const d = new Date(ts);
            return isNaN(d) ? ts : d.toLocaleTimeString('ja-JP', { hour12: false });
        };

        // Pick the most interesting field to show beside the event name.
        const subject = (f) => {
            if (!f) return '';
            if (f.page) return (f.scene ? f.scene + ':' : '') + f.page;
            return f.to || f.display_id || f.mood || '';
        };

        const logEvent = (e) => {
            const scope = (e.event || '').split('.')[0];
            const row = el('div', 'row lv-' + e.level + ' sc-' + scope);
            row.appendChild(el('span', 'when', clock(e.ts)));
            row.appendChild(el('span', 'what', e.event));
            const who = subject(e.fields);
            if (who) row.appendChild(el('span', 'who', who));
            if (e.msg) row.appendChild(el('span', 'note', e.msg));
            feed.appendChild(row);
            while (feed.children.length > 500) feed.removeChild(feed.firstChild);
            feed.scrollTop = feed.scrollHeight;
            $('tally').textContent = ++seen;
        };

        const speak = (role, text, turn) => {
            const b = el('div', 'bubble ' + role + (turn && turn.degraded ? ' degraded' : ''));
            if (turn && turn.image) {
                const img = el('img', 'portrait');
                img.src = '/' + turn.image;
                img.alt = turn.mood || '';
                b.appendChild(img);
            }
            b.appendChild(el('span', '', text));
            if (turn && turn.mood) b.appendChild(el('span', 'mood', turn.mood));
            bubbles.appendChild(b);
            bubbles.scrollTop = bubbles.scrollHeight;
        };

        let flashTimer = null;
        const flash = (ok, text) => {
            const f = $('flash');
            f.className = ok ? 'ok' : 'bad';
            f.textContent = text;
            clearTimeout(flashTimer);
            flashTimer = setTimeout(() => { f.className = ''; f.textContent = ''; }, 5000);
        };

        const refreshPosition = async () => {
            try {
                const res = await fetch('/status');
                const data = await res.json();
                if (!data.ok || !data.session.started) {
                    $('position').textContent = 'not started';
                    return;
                }
                const s = data.session;
                $('position').textContent =
                    s.scene + ':' + s.page + ' · ' + (s.mood || '-') + ' · ' + s.display_turns + ' turns';
            } catch {
                $('position').textContent = '–';
            }
        };

        const call = async (path, body) => {
            const res = await fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body || {})
            });
            const data = await res.json();
            if (data.ok && data.reply !== undefined) speak('assistant', data.reply, data);
            refreshPosition();
            return data;
        };

        const busy = async (btn, fn) => {
            btn.disabled = true;
            try { await fn(); } catch { flash(false, 'network error'); }
            btn.disabled = false;
        };

        // Live event feed with auto-reconnect.
        let sock = null;
        let retry = null;

        const linkState = (state) => {
            const link = $('link');
            link.className = 'link ' + state;
            link.textContent = state === 'on' ? 'live' : state === 'wait' ? 'connecting' : 'offline';
        };

        const attach = () => {
            if (sock && sock.readyState === WebSocket.OPEN) return;
            linkState('wait');
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            sock = new WebSocket(scheme + location.host + '/ws/events');
            sock.onopen = () => { linkState('on'); clearTimeout(retry); retry = null; };
            sock.onmessage = (m) => {
                try { logEvent(JSON.parse(m.data)); } catch (err) { console.error('bad event payload', err); }
            };
            sock.onclose = () => {
                linkState('off');
                if (!retry) retry = setTimeout(() => { retry = null; attach(); }, 3000);
            };
            sock.onerror = () => sock.close();
        };

        $('composer').addEventListener('submit', (ev) => {
            ev.preventDefault();
            const text = $('say').value.trim();
            if (!text) return;
            speak('user', text);
            $('say').value = '';
            busy($('sayBtn'), async () => {
                const data = await call('/chat', { message: text });
                if (!data.ok) flash(false, data.error || 'chat failed');
            });
        });

        $('startBtn').addEventListener('click', () => {
            const scene = $('scene').value.trim();
            busy($('startBtn'), async () => {
                const data = await call('/session/start', scene ? { scene_id: scene } : {});
                if (data.ok) { flash(true, 'session started'); $('scene').value = ''; }
                else flash(false, data.error || 'start failed');
            });
        });

        $('moveBtn').addEventListener('click', () => {
            const target = $('target').value.trim();
            if (!target) { flash(false, 'enter a target'); return; }
            busy($('moveBtn'), async () => {
                const data = await call('/move', { target: target });
                if (data.ok) { flash(true, 'moved to ' + target); $('target').value = ''; }
                else flash(false, data.error || 'move failed');
            });
        });

        $('undoBtn').addEventListener('click', () => {
            busy($('undoBtn'), async () => {
                const data = await call('/undo', {});
                flash(data.ok, data.ok ? 'undone' : (data.error || 'undo failed'));
            });
        });

        $('resetBtn').addEventListener('click', () => {
            busy($('resetBtn'), async () => {
                const data = await call('/reset', {});
                if (data.ok) { bubbles.innerHTML = ''; flash(true, 'session reset'); }
                else flash(false, data.error || 'reset failed');
            });
        });

        ['scene', 'target'].forEach((id) => {
            $(id).addEventListener('keydown', (ev) => {
                if (ev.key === 'Enter') {
                    ev.preventDefault();
                    $(id === 'scene' ? 'startBtn' : 'moveBtn').click();
                }
            });
        });

        attach();
        refreshPosition();
        setInterval(refreshPosition, 5000);
    </script>
</body>
</html>`

// uiHandler serves the embedded operator console.
func uiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(consoleHTML))
}
