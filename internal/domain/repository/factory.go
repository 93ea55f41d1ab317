package repository

// Factory describes access to different domain repositories.
type Factory interface {
	Users() UserRepository
	Countries() CountryRepository
	Packages() PackageRepository
	Orders() OrderRepository
	ESims() ESimRepository
}
