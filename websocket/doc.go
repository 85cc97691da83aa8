// Package websocket implements persistent streaming sessions for the trade
// updates and market data services.
//
// A Session owns one socket at a time. It authenticates after every
// (re)connect, keeps the server's subscriptions equal to what the
// registered listeners ask for, and retries unintentional drops with a
// bounded number of attempts. Messages are decoded and delivered to
// listeners in wire order on a single worker goroutine.
//
//	session, err := websocket.NewTradeUpdatesClient(logger, websocket.KeyCredentials(key, secret))
//	if err != nil {
//		return err
//	}
//	session.AddListener(interfaces.NewListener(interfaces.Interest{}, func(msg types.Message) {
//		// ...
//	}))
package websocket
