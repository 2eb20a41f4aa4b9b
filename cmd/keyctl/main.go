// Keyctl reads, writes and deletes a user's key-retrieval data on a
// keyserver:
//
//	keyctl get > key.txt
//	keyctl put < key.txt
//	keyctl delete
//
// Server address and credentials come from a relaxed JSON file, overridden
// by flags.
package main // import "github.com/mozilla-services/keyretrieval/cmd/keyctl"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mozilla-services/keyretrieval/client"
	"github.com/mozilla-services/keyretrieval/keyservice"
	"github.com/rogpeppe/rjson"
	log "github.com/sirupsen/logrus"
)

type config struct {
	Server   string `json:"server"`
	User     string `json:"user"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func loadConfig(pathname string) (*config, error) {
	c := new(config)
	f, err := os.Open(pathname)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := rjson.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("%q: %w", pathname, err)
	}
	return c, nil
}

func main() {
	configFile := flag.String("config", os.ExpandEnv("$HOME/lib/keyretrieval/keyctl.config"), "location of configuration file")
	serverAddress := flag.String("server", "", "keyserver base URL, e.g. http://localhost:8080")
	user := flag.String("user", "", "user name")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	c, err := loadConfig(*configFile)
	if err != nil {
		log.WithField("err", err).Fatal("Could not load configuration")
	}
	if *serverAddress != "" {
		c.Server = *serverAddress
	}
	if *user != "" {
		c.User = *user
	}
	if password := os.Getenv("KEYCTL_PASSWORD"); password != "" {
		c.Password = password
	}
	if c.User == "" || flag.NArg() != 1 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: keyctl [-server url] [-user name] get|put|delete")
		os.Exit(2)
	}

	var opts []client.Option
	if c.Server != "" {
		opts = append(opts, client.WithAddress(c.Server))
	}
	if c.Token != "" {
		opts = append(opts, client.WithToken(c.Token))
	} else if c.Password != "" {
		opts = append(opts, client.WithPassword(c.Password))
	}
	kc := client.New(c.User, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, kc, flag.Arg(0), os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, keyservice.ErrNotFound) {
			_, _ = fmt.Fprintf(os.Stderr, "no key-retrieval data for %q\n", c.User)
			os.Exit(1)
		}
		log.WithFields(log.Fields{
			"op":   flag.Arg(0),
			"user": c.User,
			"err":  err,
		}).Fatal("Request failed")
	}
}

func run(ctx context.Context, kc *client.Client, op string, in io.Reader, out io.Writer) error {
	switch op {
	case "get":
		value, err := kc.Get(ctx)
		if err != nil {
			return err
		}
		_, err = out.Write(value)
		return err
	case "put":
		value, err := io.ReadAll(io.LimitReader(in, keyservice.MaxPayloadSize+1))
		if err != nil {
			return err
		}
		return kc.Put(ctx, value)
	case "delete":
		return kc.Delete(ctx)
	default:
		return fmt.Errorf("%q: unknown operation, expecting get, put or delete", op)
	}
}
