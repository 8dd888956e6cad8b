// Package federation loads exports from remote containers at runtime.
//
// A remote publishes an entry at a URL. Linking the entry registers the
// remote's Container under its scope in Containers. The Loader links the
// entry through a Document, waits for the container, performs the shared
// scope handshake and instantiates the requested export. Loads are cached
// per Key, concurrent loads of one Key share a single attempt sequence, and
// a Key whose attempts were exhausted is rejected during a cooldown window.
package federation
