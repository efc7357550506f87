package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newUpgrader(origins *OriginPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.Check,
	}
}

// webSocket upgrades the request and hands the connection to the hub, which
// starts its pumps. Authentication happens over the socket.
func (a *api) webSocket(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "addr", c.Request.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, a.hub, c.Request.RemoteAddr)
	if !a.hub.registerClient(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		client.closeConnection()
	}
}

// health reports liveness and the current player count.
func (a *api) health(c *gin.Context) {
	n, err := a.hub.OnlinePlayers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopping"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "onlinePlayers": n})
}

// testPage serves a small browser client for trying the realtime protocol.
func (a *api) testPage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, testPageHTML)
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GameHub Realtime Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #feed {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] {
            width: 220px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GameHub Realtime Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div>Players online: <strong id="count">0</strong></div>

    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <button onclick="login()">Log in</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Say something..." disabled>
        <button id="sendButton" onclick="sendChat()" disabled>Send</button>
    </div>

    <div id="feed"></div>

    <script>
        let ws = null;
        let accessToken = null;
        let heartbeat = null;
        const feed = document.getElementById('feed');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            feed.appendChild(line);
            feed.scrollTop = feed.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        async function login() {
            const res = await fetch('/api/auth/login', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({
                    username: document.getElementById('username').value,
                    password: document.getElementById('password').value
                })
            });
            const body = await res.json();
            if (!res.ok) {
                addLine('Login failed: ' + body.error, 'red');
                return;
            }
            accessToken = body.accessToken;
            addLine('Logged in as ' + body.user.username);
        }

        function send(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                send('authenticate', {token: accessToken || ''});
                heartbeat = setInterval(function() { send('activity'); }, 60000);
            };

            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                switch (msg.event) {
                case 'authenticated':
                    addLine('Authenticated');
                    break;
                case 'playerCount':
                    document.getElementById('count').textContent = msg.data.count;
                    break;
                case 'chat':
                    addLine(msg.data.username + ': ' + msg.data.message, 'green');
                    break;
                case 'activity':
                    addLine('[' + msg.data.type + '] ' + msg.data.message);
                    break;
                case 'error':
                    addLine('Error: ' + msg.data.message, 'red');
                    break;
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                clearInterval(heartbeat);
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendChat() {
            const text = messageInput.value.trim();
            if (text) {
                send('chat', {text: text});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendChat();
            }
        });
    </script>
</body>
</html>`
