package cratesync

import (
	"fmt"
	"sync"
)

// another user's profile page, with the optimistic follow toggle.
// owned by the view that created it
type ProfileView struct {
	api      *CrateDigApi
	executor *MutationExecutor

	stateLock sync.Mutex

	profile *UserProfile

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewProfileView(api *CrateDigApi) *ProfileView {
	return &ProfileView{
		api:             api,
		executor:        NewMutationExecutor(),
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *ProfileView) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *ProfileView) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		safeInvoke(changeCallback)
	}
}

func (self *ProfileView) Profile() *UserProfile {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.profile == nil {
		return nil
	}
	profile := *self.profile
	return &profile
}

func (self *ProfileView) setProfile(profile *UserProfile) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.profile = profile
	}()
	self.changed()
}

func (self *ProfileView) Load(userId Id) error {
	result, err := self.api.ProfileSync(userId)
	if err != nil {
		return err
	}
	self.setProfile(result.Profile)
	return nil
}

func (self *ProfileView) setFollowing(on bool) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.profile == nil || self.profile.IsFollowing == on {
			return
		}
		updated := *self.profile
		updated.IsFollowing = on
		if on {
			updated.FollowersCount += 1
		} else {
			updated.FollowersCount -= 1
		}
		self.profile = &updated
	}()
	self.changed()
}

// one press of the follow toggle. follow/unfollow is idempotent on the
// gateway, so the optimistic value stands on success
func (self *ProfileView) ToggleFollow() (bool, error) {
	profile := self.Profile()
	if profile == nil {
		return false, fmt.Errorf("profile is not loaded")
	}
	userId := profile.UserId

	return self.executor.Toggle(
		fmt.Sprintf("follow/%s", userId),
		profile.IsFollowing,
		func(on bool) {
			self.setFollowing(on)
		},
		func(on bool) error {
			result, err := self.api.FollowUserSync(&FollowUserArgs{
				UserId:    userId,
				Following: on,
			})
			if err != nil {
				return err
			}
			func() {
				self.stateLock.Lock()
				defer self.stateLock.Unlock()

				if self.profile != nil {
					updated := *self.profile
					updated.FollowersCount = result.FollowersCount
					self.profile = &updated
				}
			}()
			self.changed()
			return nil
		},
		func() {
			// the authoritative state disagrees. reload the profile
			self.Load(userId)
		},
	)
}
