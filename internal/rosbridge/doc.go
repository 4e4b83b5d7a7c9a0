// Package rosbridge реализует клиент протокола rosbridge v2 (JSON поверх
// WebSocket) для подключения к шине ROS через rosbridge_server.
// Одно соединение на Client, поверх него:
//
//   - Topic: subscribe/unsubscribe, advertise/publish/unadvertise;
//   - Service: call_service с корреляцией ответа по (service, id),
//     advertise_service с обработчиком входящих вызовов;
//   - Param: get/set/delete параметров через сервисы rosapi;
//   - GetTopics, GetNodes, GetServices и их блокирующие *Context варианты.
//
// События (подписка возвращает функцию отписки):
//   - OnOpen, OnClose, OnError, OnStatus.
//
// Поведение соединения:
//   - Connect асинхронный, ошибки приходят в OnError. Всё, что отправлено до
//     открытия, копится в очереди и уходит в исходном порядке сразу после open.
//   - Входящие сообщения разбирает одна горутина чтения, колбэки вызываются в
//     ней же и в порядке прихода. Долгую работу из колбэков уносите в свою
//     горутину.
//   - Запись в сокет сериализована (мьютекс + write-deadline).
//   - Автоматического переподключения в клиенте нет, для этого есть
//     internal/supervisor. Client.Reconnect переподключается вручную.
//   - Ожидающие вызовы сервисов не имеют таймаута. Если нужен дедлайн,
//     используйте Service.CallContext.
//
// Пример:
//
//	c := rosbridge.New(rosbridge.WithLogger(slog.Default()))
//	c.Connect(ctx, "http://localhost:9090", rosbridge.TransportWebSocket, rosbridge.TransportOptions{})
//	defer c.Close()
//
//	rosout := rosbridge.NewTopic(c, rosbridge.TopicOptions{Name: "/rosout", MessageType: "rosgraph_msgs/Log"})
//	_ = rosout.Subscribe(func(msg json.RawMessage) {
//	    fmt.Println(string(msg))
//	})
//
//	topics, err := c.TopicsContext(ctx)
//	if err != nil { log.Fatal(err) }
//	fmt.Println(topics)
package rosbridge
