package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"nhooyr.io/websocket"
)

func main() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			fmt.Println("accept err", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		typ, data, err := c.Read(ctx)
		if err != nil {
			fmt.Println("read err", err)
			return
		}
		c.Write(ctx, typ, data)
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		fmt.Println("dial err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	fmt.Println("dial ok")
}
