/*
Package transport serves the gateway over WebSocket.

Admission runs before the upgrade, so a refused client receives an HTTP
status (401, 403 or 429) and a JSON body holding only the public message:

	{"error": "TOO_MANY_ATTEMPTS"}

Clients present their token in the auth payload, the token query parameter,
an Authorization header, a token cookie, or as a "bearer.<token>" entry in
Sec-WebSocket-Protocol next to "socketgate".

Once upgraded, each text frame is one message:

	{"event": "case:view", "id": "7", "data": {"resourceId": "c-1"}}

Messages pass through the event throttle, the session guard for sensitive
events and the event's policy chain before reaching the handler registered
for the event. Throttled messages are answered with a rate_limit notice and
dropped. Denied messages are answered with an ACCESS_DENIED error and the
connection stays open. An invalidated session is closed with status 1008.

Admin connections also receive audit monitor events:

	{"type": "admin:audit", "data": {...}}
*/
package transport
