/*
 *	erpc allows processes and browsers to call functions on each other remotely.
 *	Copyright (C) 2022 Arsen Musayelyan
 *
 *	This program is free software: you can redistribute it and/or modify
 *	it under the terms of the GNU General Public License as published by
 *	the Free Software Foundation, either version 3 of the License, or
 *	(at your option) any later version.
 *
 *	This program is distributed in the hope that it will be useful,
 *	but WITHOUT ANY WARRANTY; without even the implied warranty of
 *	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *	GNU General Public License for more details.
 *
 *	You should have received a copy of the GNU General Public License
 *	along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Program erpcd serves and calls erpc handlers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/gofrs/uuid"
	"go.arsenm.dev/erpc/client"
	"go.arsenm.dev/erpc/protocol"
	"go.arsenm.dev/erpc/server"
	"go.arsenm.dev/erpc/socket"
	"go.uber.org/zap"
)

var serveFlags struct {
	Addr    string        `flag:"addr,default=127.0.0.1:8080,Address to listen on"`
	Origins string        `flag:"origins,Comma-separated list of allowed CORS origins (* for any)"`
	Sockets bool          `flag:"sockets,default=true,Serve the persistent transport at /ws/{role}"`
	Codec   string        `flag:"codec,default=json,Default socket codec (json or msgpack)"`
	Rate    float64       `flag:"rate,Maximum calls per second (0 for no limit)"`
	Burst   int           `flag:"burst,default=10,Maximum burst of calls above the rate"`
	Grace   time.Duration `flag:"grace,default=10s,Time allowed for in-flight calls on shutdown"`
	Debug   bool          `flag:"debug,Enable debug logging"`
}

var callFlags struct {
	Addr    string        `flag:"addr,default=127.0.0.1:8080,Address of the engine"`
	Role    string        `flag:"role,Call over a persistent connection with this role"`
	Codec   string        `flag:"codec,default=json,Socket codec (json or msgpack)"`
	Timeout time.Duration `flag:"timeout,default=30s,Call timeout"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Serve and call erpc handlers.",
		Commands: []*command.C{
			{
				Name: "serve",
				Help: `Serve demonstration handlers over HTTP and WebSocket.

The following handlers are registered:

  echo <value>       : returns its parameter
  add <a> <b>        : returns the sum of two numbers
  handlers           : lists the registered identifiers
  broadcast <value>  : sends a notify request to every connected peer`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &serveFlags) },
				Run:      runServe,
			},
			{
				Name:  "call",
				Usage: "<identifier> [parameter...]",
				Help: `Call a handler on a running engine.

Each parameter is parsed as JSON, or passed as a string if it is not valid JSON.
By default the call is made over HTTP. With -role, it is made over a persistent
connection that announces the given role.`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &callFlags) },
				Run:      runCall,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(env *command.Env) error {
	log, err := newLogger(serveFlags.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := server.Options{
		Addr:            serveFlags.Addr,
		EnableSockets:   serveFlags.Sockets,
		Codec:           serveFlags.Codec,
		Logger:          log,
		ShutdownTimeout: serveFlags.Grace,
		Middleware:      []server.Middleware{server.Logging(log)},
	}
	if serveFlags.Origins != "" {
		opts.AllowedOrigins = strings.Split(serveFlags.Origins, ",")
	}
	if serveFlags.Rate > 0 {
		opts.Middleware = append(opts.Middleware, server.RateLimit(serveFlags.Rate, serveFlags.Burst))
	}

	e, err := server.New(opts)
	if err != nil {
		return err
	}

	e.Register("echo", func(v any) any { return v })
	e.Register("add", func(a, b float64) float64 { return a + b })
	e.Register("handlers", e.Identifiers)
	e.Register("broadcast", func(ctx context.Context, v any) error {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		return e.Connections().Broadcast(ctx, protocol.NewSocketRequest(id.String(), &protocol.Request{
			Identifier: "notify",
			Parameters: []any{v},
		}))
	})

	e.OnConnect(func(c *socket.Connection) {
		log.Info("New connection",
			zap.String("role", c.Role()),
			zap.String("remote", c.RemoteAddr()),
			zap.Int("connections", e.Connections().Len()),
		)
	})

	if err := e.Start(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Listening on %s\n", e.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down", zap.String("metrics", e.Metrics().String()))
	return e.Stop(context.Background())
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing handler identifier")
	}

	params := make([]any, 0, len(env.Args)-1)
	for _, arg := range env.Args[1:] {
		var v any
		if err := protocol.DecodeValue([]byte(arg), &v); err != nil {
			v = arg
		}
		params = append(params, v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callFlags.Timeout)
	defer cancel()

	opts := client.Options{Address: callFlags.Addr, Codec: callFlags.Codec}
	if callFlags.Role != "" {
		opts.Kind = client.Browser
	}
	target, err := client.New(opts)
	if err != nil {
		return err
	}

	if callFlags.Role != "" {
		conn, err := target.Dial(ctx, callFlags.Role, nil)
		if err != nil {
			return err
		}
		defer conn.Close()
	}

	val, err := target.Call(ctx, env.Args[0], params...)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(val, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
