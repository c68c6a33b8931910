package registry

// mongo module provides MongoDB backed model registry
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet AT gmail dot com>
//
// References : https://gist.github.com/boj/5412538
//              https://gist.github.com/border/3489566

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

// names of MongoDB collections used by registry
const (
	VersionsCollection = "versions"
	AliasesCollection  = "aliases"
)

// MongoConnection defines connection to MongoDB
type MongoConnection struct {
	URI     string
	Session *mgo.Session
	mu      sync.Mutex
}

// Connect provides connection to MongoDB
func (m *MongoConnection) Connect() (*mgo.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.Session == nil {
		m.Session, err = mgo.DialWithTimeout(m.URI, 10*time.Second)
		if err != nil {
			return nil, err
		}
		m.Session.SetMode(mgo.Strong, true)
	}
	return m.Session.Clone(), nil
}

// Close closes MongoDB master session
func (m *MongoConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Session != nil {
		m.Session.Close()
		m.Session = nil
	}
}

// versionRecord represents model version document
type versionRecord struct {
	Model   string `bson:"model"`
	Version string `bson:"version"`
	Seq     int    `bson:"seq"`
	Source  string `bson:"source"`
	Created int64  `bson:"created"`
}

// aliasRecord represents model alias document
type aliasRecord struct {
	Model   string `bson:"model"`
	Alias   string `bson:"alias"`
	Version string `bson:"version"`
	Updated int64  `bson:"updated"`
}

// Mongo implements Registry using MongoDB collections
type Mongo struct {
	DBName string
	conn   *MongoConnection
}

// NewMongo creates new MongoDB registry for given URI and database name
func NewMongo(uri, dbname string) *Mongo {
	return &Mongo{DBName: dbname, conn: &MongoConnection{URI: uri}}
}

// Close closes underlying MongoDB session
func (m *Mongo) Close() {
	m.conn.Close()
}

// helper function to run fn with session, all session errors are reported
// as ErrUnavailable
func (m *Mongo) with(fn func(db *mgo.Database) error) error {
	s, err := m.conn.Connect()
	if err != nil {
		log.Println("Unable to connect to MongoDB", err)
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	defer s.Close()
	return fn(s.DB(m.DBName))
}

// ResolveAlias implements Resolver interface
func (m *Mongo) ResolveAlias(ctx context.Context, model, alias string) (Version, error) {
	var out Version
	err := m.with(func(db *mgo.Database) error {
		var arec aliasRecord
		err := db.C(AliasesCollection).Find(bson.M{"model": model, "alias": alias}).One(&arec)
		if err == mgo.ErrNotFound {
			return fmt.Errorf("alias %s:%s: %w", model, alias, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("%v: %w", err, ErrUnavailable)
		}
		var vrec versionRecord
		err = db.C(VersionsCollection).Find(bson.M{"model": model, "version": arec.Version}).One(&vrec)
		if err == mgo.ErrNotFound {
			return fmt.Errorf("version %s/v%s: %w", model, arec.Version, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("%v: %w", err, ErrUnavailable)
		}
		out = Version{Model: model, Version: vrec.Version, Source: vrec.Source}
		return nil
	})
	return out, err
}

// SetAlias implements Registry interface, the version should exist
func (m *Mongo) SetAlias(ctx context.Context, model, alias, version string) error {
	return m.with(func(db *mgo.Database) error {
		nrec, err := db.C(VersionsCollection).Find(bson.M{"model": model, "version": version}).Count()
		if err != nil {
			return fmt.Errorf("%v: %w", err, ErrUnavailable)
		}
		if nrec == 0 {
			return fmt.Errorf("version %s/v%s: %w", model, version, ErrNotFound)
		}
		spec := bson.M{"model": model, "alias": alias}
		rec := aliasRecord{Model: model, Alias: alias, Version: version, Updated: time.Now().Unix()}
		if _, err := db.C(AliasesCollection).Upsert(spec, &rec); err != nil {
			log.Printf("Fail to upsert alias %+v, error %v\n", rec, err)
			return fmt.Errorf("%v: %w", err, ErrUnavailable)
		}
		return nil
	})
}

// RegisterVersion implements Registry interface, new version is next
// sequential number of given model
func (m *Mongo) RegisterVersion(ctx context.Context, model, source string) (Version, error) {
	var out Version
	err := m.with(func(db *mgo.Database) error {
		c := db.C(VersionsCollection)
		var last versionRecord
		seq := 1
		err := c.Find(bson.M{"model": model}).Sort("-seq").One(&last)
		if err == nil {
			seq = last.Seq + 1
		} else if err != mgo.ErrNotFound {
			return fmt.Errorf("%v: %w", err, ErrUnavailable)
		}
		rec := versionRecord{
			Model:   model,
			Version: strconv.Itoa(seq),
			Seq:     seq,
			Source:  source,
			Created: time.Now().Unix(),
		}
		if err := c.Insert(&rec); err != nil {
			log.Printf("Fail to insert record %+v, error %v\n", rec, err)
			return fmt.Errorf("%v: %w", err, ErrUnavailable)
		}
		out = Version{Model: model, Version: rec.Version, Source: source}
		return nil
	})
	return out, err
}

// Remove removes all versions and aliases of given model
func (m *Mongo) Remove(model string) error {
	return m.with(func(db *mgo.Database) error {
		spec := bson.M{"model": model}
		for _, coll := range []string{VersionsCollection, AliasesCollection} {
			if _, err := db.C(coll).RemoveAll(spec); err != nil && err != mgo.ErrNotFound {
				log.Printf("Unable to remove records, spec %v, error %v\n", spec, err)
				return err
			}
		}
		return nil
	})
}
