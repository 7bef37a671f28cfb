package storage

type IService interface {
	// StoreFrame writes an encoded image under name and returns the name.
	StoreFrame(name string, data []byte) (string, error)
	// List returns stored image names, most recent first, at most limit (0 for all).
	List(limit int) ([]string, error)
	Folder() string
}
