package orders

// Note kinds exchanged between the platform and its participants.
const (
	KindConsumerProfile             uint32 = 8991
	KindConsumerGiftwrap            uint32 = 8992
	KindOrderRequest                uint32 = 8993
	KindCommerceOrderConfirmation   uint32 = 8994
	KindCourierProfile              uint32 = 8995
	KindOrderCancel                 uint32 = 8996
	KindCommerceStatusUpdate        uint32 = 8997
	KindCourierStatusUpdate         uint32 = 8998
	KindPresignRequest              uint32 = 9995
	KindCommerceProfile             uint32 = 18990
	KindCommerceMenu                uint32 = 18991
	KindCourierProfilePublic        uint32 = 18992
	KindServerRequest               uint32 = 28990
	KindDriverState                 uint32 = 28991
	KindAdminRequest                uint32 = 28992
	KindPresignResponse             uint32 = 29996
	KindConsumerReplaceableGiftwrap uint32 = 38992
	KindAdminConfig                 uint32 = 38993
	KindConsumerRegistry            uint32 = 38994
	KindOrderState                  uint32 = 38996
)
