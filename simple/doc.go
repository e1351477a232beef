// Package simple provides a high-level, batteries-included API for cloudblob.
//
// # Philosophy
//
// The Simple API is designed for rapid prototyping, demos, and applications that
// prioritize developer experience over fine-grained control. It provides:
//
//   - Automatic configuration from environment variables
//   - Type-safe operations using generics
//   - Full-text search configured via struct tags
//   - Graceful degradation when Redis is unavailable
//
// # Quick Start
//
// Declare a struct, register it as a model and start storing data:
//
//	type User struct {
//	    ID    string `json:"id" sb:"id"`
//	    Name  string `json:"name" sb:"index"`
//	    Email string `json:"email"`
//	}
//
//	db := simple.MustConnect(simple.Model[User]())
//	defer db.Close()
//
//	users, err := simple.NewCollection[User](db)
//	user, err := users.Create(ctx, &User{
//	    Email: "alice@example.com",
//	    Name:  "Alice",
//	})
//
// Models are registered up front because every namespace of a Datastore is
// fixed when it is created.
//
// # Struct Tags
//
//   - sb:"id" - Marks the ID field (defaults to field named "ID"). Its JSON
//     name is the namespace ref that generated ids are written into.
//   - sb:"index" - Adds the field to the collection's full-text index
//
// # Configuration
//
// The Simple API auto-detects configuration from environment:
//
//   - DATA_PATH: Filesystem backend path (default: "./data")
//   - DATA_BUCKET: Bucket name (default: "simple")
//   - REDIS_ADDR: Redis address; enables the read cache when reachable
//   - REDIS_PASSWORD: Redis password (optional)
//   - REDIS_DB: Redis database number (default: 0)
//
// # Error Handling
//
// The Simple API provides two initialization styles:
//
// 1. Connect() - Returns error for production use:
//
//	db, err := simple.Connect(simple.Model[User]())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// 2. MustConnect() - Panics on error for demos/prototypes:
//
//	db := simple.MustConnect(simple.Model[User]())
//	defer db.Close()
//
// Missing items return errors wrapping cloudblob.ErrNotFound, so
// cloudblob.IsNotFound works on everything a Collection returns.
//
// # Escape Hatches
//
// The underlying Datastore is always available:
//
//	ds := db.Datastore()
//	page, err := ds.List(ctx, "Users", cloudblob.ListOptions{Max: 50})
//
// # Collections
//
//	users, err := simple.NewCollection[User](db)
//
//	// Create
//	user, err := users.Create(ctx, &User{Email: "alice@example.com"})
//
//	// Get by ID
//	user, err := users.Get(ctx, userID)
//
//	// Update
//	user.Name = "Alice Smith"
//	err := users.Update(ctx, user)
//
//	// Full-text search over sb:"index" fields
//	matches, err := users.Search(ctx, "alice")
//
//	// Field equality (scans the collection)
//	admins, err := users.Find(ctx, "role", "admin")
//	user, err := users.FindOne(ctx, "email", "alice@example.com")
//
// # Collection Naming
//
// Collection names are inferred from type names with smart pluralization:
//
//	Model[User]()     // -> "Users"
//	Model[Person]()   // -> "people"
//	Model[Category]() // -> "Categories"
//
// Override with explicit name, using the same name for the collection:
//
//	simple.Model[User]("customers")
//	simple.NewCollection[User](db, "customers")
//
// # Immutability
//
// The Create() method returns a new object with ID populated, leaving the
// input unchanged:
//
//	user := &User{Email: "alice@example.com"}
//	created, err := users.Create(ctx, user)
//	// user.ID == ""        (unchanged)
//	// created.ID == "..."  (populated)
//
// Search indexes are saved when the DB is closed.
package simple
