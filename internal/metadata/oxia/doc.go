// Package oxia implements metadata.MetadataStore on Oxia.
//
// Worker reports are written with PutEphemeral. Oxia binds ephemeral keys
// to the client session, so a worker that crashes or loses connectivity
// drops out of the registry after SessionTimeout.
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "default",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package oxia
