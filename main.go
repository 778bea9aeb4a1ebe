package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/deemkeen/anancus/activitypub"
	"github.com/deemkeen/anancus/db"
	"github.com/deemkeen/anancus/store"
	"github.com/deemkeen/anancus/util"
	"github.com/deemkeen/anancus/web"
	"github.com/deemkeen/anancus/worker"
)

func main() {

	addUser := flag.String("adduser", "", "create a local account and exit")
	flag.Parse()

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(filepath.Join(conf.Conf.DataDir, "anancus.db"))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	st, err := store.Open(conf.Conf.DataDir)
	if err != nil {
		// refuses to touch data written by a newer release
		log.Fatalln(err)
	}

	srv, err := activitypub.NewServer(conf, database, st)
	if err != nil {
		log.Fatalln(err)
	}

	if *addUser != "" {
		if conf.Conf.Closed {
			log.Fatalln("This instance is closed, no new accounts")
		}
		if err := createUser(srv, *addUser); err != nil {
			log.Fatalln(err)
		}
		return
	}

	pool := worker.NewPool(srv, conf.Conf.Workers)
	pool.Start()

	if err := activitypub.SchedulePurge(srv); err != nil {
		log.Printf("Warning: failed to schedule purge: %v", err)
	}

	startServing(srv, pool)
}

func createUser(srv *activitypub.Server, username string) error {
	if err, _ := srv.Db.CreateAccount(username); err != nil {
		return err
	}
	u, err := srv.User(username)
	if err != nil {
		return err
	}
	if err := u.St.Init(); err != nil {
		return err
	}
	fmt.Printf("Created user %s (%s)\n", username, u.ActorId())
	return nil
}

func startServing(srv *activitypub.Server, pool *worker.Pool) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Serve(srv, pool.Wake); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping workers")
	pool.Stop()
}
